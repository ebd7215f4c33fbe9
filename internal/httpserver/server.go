package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hopgate/carbroker/internal/config"
	"github.com/hopgate/carbroker/internal/principal"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // authenticated /api/v1 sub-router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints. Domain handlers should be mounted on APIRouter after calling
// NewServer.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	// Global middleware
	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Company-ID", "X-Principal-Type", "X-Principal-Role", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (unauthenticated)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.HandleStatus)

	// Prometheus metrics (unauthenticated)
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.Router.Handle(metricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	// Authenticated API routes. The principal is resolved from trusted
	// headers set by whatever sits in front of this service; this core
	// never verifies credentials itself.
	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(principal.Middleware(logger))
		r.Use(principal.RequireAuth)

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			p := principal.FromContext(r.Context())
			Respond(w, http.StatusOK, map[string]string{
				"company_id": p.CompanyID.String(),
				"type":       string(p.Type),
				"role":       p.Role,
			})
		})

		s.APIRouter = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape returned by HandleStatus.
type statusResponse struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Database        string  `json:"database"`
	DatabaseLatency float64 `json:"database_latency_ms"`
	Redis           string  `json:"redis"`
	RedisLatency    float64 `json:"redis_latency_ms"`
}

// HandleStatus returns system health information including DB/Redis
// connectivity and uptime.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := statusResponse{
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}

	dbStart := time.Now()
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("status check: database ping failed", "error", err)
		resp.Database = "error"
	} else {
		resp.Database = "ok"
	}
	resp.DatabaseLatency = roundMS(time.Since(dbStart))

	redisStart := time.Now()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("status check: redis ping failed", "error", err)
		resp.Redis = "error"
	} else {
		resp.Redis = "ok"
	}
	resp.RedisLatency = roundMS(time.Since(redisStart))

	if resp.Database == "ok" && resp.Redis == "ok" {
		resp.Status = "ok"
	} else {
		resp.Status = "degraded"
	}

	Respond(w, http.StatusOK, resp)
}

// roundMS converts a duration to milliseconds truncated to 2 decimal places.
func roundMS(d time.Duration) float64 {
	return float64(d.Microseconds()/10) / 100
}
