// Package api serves the HTTP surface around the session coordinator: the
// exercise lobby, a room listing, health, metrics and the WebSocket
// upgrade endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"codementor/internal/metrics"
	"codementor/internal/room"
	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// RoomLister reports live rooms.
type RoomLister interface {
	Snapshots() []room.Snapshot
}

// ConnectionStats reports connection counts.
type ConnectionStats interface {
	GetStats() map[string]int
}

// HealthChecker probes a backing dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configures optional parts of the server.
type Options struct {
	AllowedOrigins []string
	// WebSocket, when set, is mounted at /ws.
	WebSocket http.Handler
	// Database, when set, is probed by /health.
	Database HealthChecker
}

// Server is the HTTP handler for the whole service.
type Server struct {
	exercises   interfaces.ExerciseStore
	rooms       RoomLister
	connections ConnectionStats
	database    HealthChecker
	router      chi.Router
	logger      *zap.Logger
	startedAt   time.Time
}

// NewServer builds the route tree.
func NewServer(exercises interfaces.ExerciseStore, rooms RoomLister, connections ConnectionStats, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		exercises:   exercises,
		rooms:       rooms,
		connections: connections,
		database:    opts.Database,
		logger:      logger,
		startedAt:   time.Now(),
	}
	s.router = s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		metrics.Middleware,
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger, middleware.Timeout(30*time.Second), jsonContent)
		r.Get("/api/exercises", s.listExercises)
		r.Get("/api/exercises/{id}", s.getExercise)
		r.Get("/api/rooms", s.listRooms)
		r.Get("/health", s.healthCheck)
	})

	r.Handle("/metrics", metrics.Handler())
	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ExerciseDetail is what a client sees of a single exercise. The solution
// never leaves the server.
type ExerciseDetail struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Hint        string `json:"hint"`
}

type ListExercisesResponse struct {
	Exercises []*types.ExerciseSummary `json:"exercises"`
}

type ListRoomsResponse struct {
	Rooms []room.Snapshot `json:"rooms"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Rooms       int                    `json:"rooms"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/exercises
func (s *Server) listExercises(w http.ResponseWriter, r *http.Request) {
	exercises, err := s.exercises.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list exercises", zap.Error(err))
		s.sendError(w, "Failed to list exercises", http.StatusInternalServerError)
		return
	}

	summaries := make([]*types.ExerciseSummary, 0, len(exercises))
	for _, ex := range exercises {
		summaries = append(summaries, ex.Summary())
	}
	s.sendJSON(w, http.StatusOK, ListExercisesResponse{Exercises: summaries})
}

// GET /api/exercises/{id}
func (s *Server) getExercise(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !types.IsValidRoomID(id) {
		s.sendError(w, "Invalid exercise ID", http.StatusBadRequest)
		return
	}

	ex, err := s.exercises.Get(r.Context(), id)
	if errors.Is(err, interfaces.ErrExerciseNotFound) {
		s.sendError(w, "Exercise not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to get exercise", zap.String("exercise_id", id), zap.Error(err))
		s.sendError(w, "Failed to get exercise", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, ExerciseDetail{
		ID:          ex.ID,
		Title:       ex.Title,
		Description: ex.Description,
		Hint:        ex.Hint,
	})
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.Snapshots()
	if rooms == nil {
		rooms = []room.Snapshot{}
	}
	s.sendJSON(w, http.StatusOK, ListRoomsResponse{Rooms: rooms})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "in-memory"
	if s.database != nil {
		dbStatus = "healthy"
		if err := s.database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = "error: " + err.Error()
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Rooms:       len(s.rooms.Snapshots()),
		Connections: s.connections.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
