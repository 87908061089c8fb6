// Package app assembles the service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codementor/internal/api"
	"codementor/internal/config"
	"codementor/internal/coordinator"
	"codementor/internal/database"
	"codementor/internal/exercise"
	"codementor/internal/room"
	"codementor/internal/router"
	"codementor/internal/websocket"
	dbconfig "codementor/pkg/database"
	"codementor/pkg/interfaces"
)

// rateLimitCleanupInterval is how often idle rate limit buckets are swept.
const rateLimitCleanupInterval = 5 * time.Minute

// Application owns every long-lived component.
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	dbManager   *database.Manager
	redis       *redis.Client
	exercises   interfaces.ExerciseStore
	connections *websocket.Registry
	rooms       *room.Registry
	coordinator *coordinator.Coordinator
	router      *router.Router
	apiServer   *api.Server
	httpServer  *http.Server

	listener net.Listener
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewApplication wires the components in dependency order:
// exercise store, connection registry, rooms, coordinator, router, HTTP.
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &Application{
		config: cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}

	store, err := app.openExerciseStore(ctx)
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.exercises = store

	app.connections = websocket.NewRegistry(logger.Named("websocket"))
	app.rooms = room.NewRegistry(room.FirstJoinerMentor{}, app.connections, logger.Named("room"))
	app.coordinator = coordinator.New(store, app.rooms, cfg.Sync.QuietPeriod, logger.Named("coordinator"))
	app.router = router.NewRouter(app.coordinator, cfg.WebSocket.MessagesPerMinute, time.Minute, logger.Named("router"))

	wsHandler := websocket.NewHandler(app.connections, app.router, websocket.HandlerConfig{
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongWait:        cfg.WebSocket.ReadTimeout,
		WriteWait:       cfg.WebSocket.WriteTimeout,
		SendBuffer:      cfg.WebSocket.BufferSize,
	}, logger.Named("websocket"))

	opts := api.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		WebSocket:      http.HandlerFunc(wsHandler.HandleWebSocket),
	}
	if app.dbManager != nil {
		opts.Database = app.dbManager
	}
	app.apiServer = api.NewServer(store, app.rooms, app.connections, opts, logger.Named("api"))

	app.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// openExerciseStore selects SQLite or memory, seeds it, and puts Redis in
// front when configured.
func (app *Application) openExerciseStore(ctx context.Context) (interfaces.ExerciseStore, error) {
	cfg := app.config

	var store interfaces.ExerciseStore
	if cfg.Database.Path == "" {
		store = exercise.NewMemoryStore()
	} else {
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dbCfg := dbconfig.DefaultConfig()
		dbCfg.DatabasePath = cfg.Database.Path
		dbCfg.MaxConnections = cfg.Database.MaxConnections

		manager, err := database.NewManager(dbCfg, app.logger.Named("database"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		app.dbManager = manager
		store = manager
	}

	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := app.redis.Ping(pingCtx).Err(); err != nil {
			app.logger.Warn("redis unreachable, exercise reads fall through to the store",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		store = exercise.NewCachedStore(store, app.redis, cfg.Redis.CacheTTL, app.logger.Named("cache"))
	}

	if cfg.Database.Seed {
		writer, ok := store.(interfaces.ExerciseWriter)
		if !ok {
			return nil, errors.New("exercise store does not accept writes")
		}
		if _, err := exercise.Seed(ctx, store, writer, exercise.DefaultCatalog(), app.logger); err != nil {
			return nil, fmt.Errorf("failed to seed exercises: %w", err)
		}
	}
	return store, nil
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Coordinator returns the session coordinator.
func (app *Application) Coordinator() *coordinator.Coordinator {
	return app.coordinator
}

// Start binds the listener and serves in the background.
func (app *Application) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	go app.sweepRateLimits()

	app.logger.Info("codementor started", zap.String("addr", listener.Addr().String()))
	return nil
}

func (app *Application) sweepRateLimits() {
	defer app.wg.Done()
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-app.stop:
			return
		case <-ticker.C:
			if n := app.router.RateLimiter().Cleanup(); n > 0 {
				app.logger.Debug("swept idle rate limit buckets", zap.Int("count", n))
			}
		}
	}
}

// Stop shuts down in reverse order: HTTP, live sockets, then stores.
func (app *Application) Stop(ctx context.Context) error {
	var errs []error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down codementor")
		close(app.stop)

		if app.listener != nil {
			if err := app.httpServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
			}
		}
		// Hijacked sockets are not tracked by http.Server.
		app.connections.CloseAll()

		done := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}

		errs = append(errs, app.closeStores()...)
		app.logger.Info("codementor shutdown complete")
	})
	return errors.Join(errs...)
}

func (app *Application) closeStores() []error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errs
}

// Addr returns the bound address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
