// Package database is the SQLite-backed exercise catalogue. Reads run
// concurrently on the connection pool; writes go through a single writer
// goroutine.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "codementor/pkg/database"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// ErrManagerClosed is returned for writes after Close.
var ErrManagerClosed = errors.New("database manager is closed")

// Manager stores exercises in SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	retryDelay   time.Duration
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and
// starts the writer.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		retryDelay:   5 * time.Second,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop runs every write. A failed write is retried once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", zap.Duration("delay", m.retryDelay), zap.Error(err))
				time.Sleep(m.retryDelay)
				if err = op.operation(m.db); err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns one exercise or interfaces.ErrExerciseNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*types.Exercise, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, title, description, hint, solution
		FROM exercises
		WHERE id = ?
	`, id)

	var ex types.Exercise
	err := row.Scan(&ex.ID, &ex.Title, &ex.Description, &ex.Hint, &ex.Solution)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrExerciseNotFound
		}
		return nil, fmt.Errorf("failed to query exercise: %w", err)
	}
	return &ex, nil
}

// List returns every exercise in lobby order.
func (m *Manager) List(ctx context.Context) ([]*types.Exercise, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, title, description, hint, solution
		FROM exercises
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exercises: %w", err)
	}
	defer func() { _ = rows.Close() }()

	exercises := make([]*types.Exercise, 0)
	for rows.Next() {
		var ex types.Exercise
		if err := rows.Scan(&ex.ID, &ex.Title, &ex.Description, &ex.Hint, &ex.Solution); err != nil {
			return nil, fmt.Errorf("failed to scan exercise row: %w", err)
		}
		exercises = append(exercises, &ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exercise rows: %w", err)
	}
	return exercises, nil
}

// Upsert inserts the exercise or replaces the stored one with the same ID.
// New exercises are listed after existing ones.
func (m *Manager) Upsert(ctx context.Context, ex *types.Exercise) error {
	if ex == nil {
		return types.ErrInvalidExercise
	}
	if err := ex.Validate(); err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO exercises (id, title, description, hint, solution, position)
			VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM exercises))
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				hint = excluded.hint,
				solution = excluded.solution,
				updated_at = CURRENT_TIMESTAMP
		`, ex.ID, ex.Title, ex.Description, ex.Hint, ex.Solution)
		if err != nil {
			return fmt.Errorf("failed to upsert exercise: %w", err)
		}
		return nil
	})
}

// Count returns the number of stored exercises.
func (m *Manager) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exercises").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count exercises: %w", err)
	}
	return n, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.Count(ctx); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
