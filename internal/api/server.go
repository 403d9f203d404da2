// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/scheduler"
	"github.com/wearable-sync/internal/storage"
)

// Service interfaces for dependency injection and testing

// SchedulerService defines the job lifecycle operations exposed over HTTP
type SchedulerService interface {
	ScheduleAllUsersFetch(interval string) (string, error)
	ScheduleUserFetch(userID, terraUserID, interval, referenceID string) (string, error)
	StopScheduledJob(jobID string) bool
	GetActiveJobs() map[string]string
	ListJobs() []scheduler.ScheduledJob
	Status() scheduler.SchedulerStatus
	FetchStats() *scheduler.FetchStats
	FetchDataForAllUsers(ctx context.Context, opts scheduler.BatchOptions) (*scheduler.BatchSummary, error)
	ManualFetchForUser(ctx context.Context, userID string) (*scheduler.FetchResult, error)
}

// UserServiceInterface defines the user operations the handlers need
type UserServiceInterface interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetFetchEnabled(ctx context.Context, id string, enabled bool) error
}

// NotificationServiceInterface lists notifications already pushed to a user
type NotificationServiceInterface interface {
	Recent(ctx context.Context, userID string, limit int) ([]storage.Notification, error)
}

// AlertServiceInterface defines alert listing
type AlertServiceInterface interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Alert, error)
}

// PlanServiceInterface defines performance plan operations
type PlanServiceInterface interface {
	GeneratePlan(ctx context.Context, userID string) (*models.PerformancePlan, error)
	LatestPlan(ctx context.Context, userID string) (*models.PerformancePlan, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	scheduler  SchedulerService
	users      UserServiceInterface
	alerts     AlertServiceInterface
	plans      PlanServiceInterface
	notifier   NotificationServiceInterface
	healthDeps map[string]HealthChecker
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
}

// Dependencies groups the services behind the API
type Dependencies struct {
	Scheduler SchedulerService
	Users     UserServiceInterface
	Alerts    AlertServiceInterface
	Plans     PlanServiceInterface
	// Notifications is nil when notifications are disabled
	Notifications NotificationServiceInterface
	// Health lists named dependencies checked by /health
	Health map[string]HealthChecker
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		scheduler:  deps.Scheduler,
		users:      deps.Users,
		alerts:     deps.Alerts,
		plans:      deps.Plans,
		notifier:   deps.Notifications,
		healthDeps: deps.Health,
		config:     config,
		logger:     logging.GetGlobalLogger().Component("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters: recovery must wrap everything it should catch
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// the subrouter answers for everything under /api, so it needs its own handlers
	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(handleNotFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	}

	// Scheduler endpoints
	api.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods("GET")
	api.HandleFunc("/scheduler/metrics", s.handleSchedulerMetrics).Methods("GET")
	api.HandleFunc("/scheduler/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/scheduler/jobs/all", s.handleScheduleAllUsers).Methods("POST")
	api.HandleFunc("/scheduler/jobs/users/{userId}", s.handleScheduleUser).Methods("POST")
	api.HandleFunc("/scheduler/jobs/{jobId}", s.handleStopJob).Methods("DELETE")
	api.HandleFunc("/scheduler/fetch/all", s.handleFetchAllUsers).Methods("POST")
	api.HandleFunc("/scheduler/fetch/users/{userId}", s.handleManualFetch).Methods("POST")

	// User endpoints
	api.HandleFunc("/users/{userId}/alerts", s.handleListAlerts).Methods("GET")
	api.HandleFunc("/users/{userId}/notifications", s.handleListNotifications).Methods("GET")
	api.HandleFunc("/users/{userId}/fetch-settings", s.handleUpdateFetchSettings).Methods("PUT")
	api.HandleFunc("/users/{userId}/performance-plan", s.handleGeneratePlan).Methods("POST")
	api.HandleFunc("/users/{userId}/performance-plan", s.handleLatestPlan).Methods("GET")
}

// Router exposes the handler for tests and embedding
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}
	for name, dep := range s.healthDeps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}

	body := map[string]interface{}{
		"status":  overall,
		"service": "wearable-sync",
		"checks":  checks,
	}
	if s.scheduler != nil {
		body["scheduler"] = s.scheduler.Status()
	}
	respondJSON(w, status, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
