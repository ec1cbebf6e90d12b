// Package ops exposes the admin HTTP surface: liveness/readiness probes
// and debug endpoints for inspecting and forcing a refresh of the
// self-updating caches.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/notifyhub/service-notification-processor/internal/notifier/cache"
	"github.com/notifyhub/service-notification-processor/internal/notifier/processor"
	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

// ProcessStatus reports the processor's lifecycle state for the
// readiness probe.
type ProcessStatus interface {
	State() processor.State
}

// CapabilitySource is the subset of *cache.SelfUpdatingCache[CapabilityMap]
// the ops surface needs.
type CapabilitySource interface {
	ServiceData() cache.CapabilityMap
	Refresh(ctx context.Context) error
}

// WebhookSource is the subset of *cache.SelfUpdatingCache[WebhookMap] the
// ops surface needs.
type WebhookSource interface {
	ServiceData() cache.WebhookMap
	Refresh(ctx context.Context) error
}

// Config bundles the ops server's dependencies.
type Config struct {
	Processor    ProcessStatus
	Capabilities CapabilitySource
	Webhooks     WebhookSource
	Authorizer   Authorizer // nil disables admin-endpoint authorization
	RateLimiter  *RateLimiter
	Log          *logger.Logger
	Metrics      *metrics.Metrics
}

// Server is the admin HTTP surface.
type Server struct {
	cfg    Config
	router chi.Router
	val    *validator.Validate
}

// refreshRequest is the POST /debug/refresh body: which cache to force a
// refresh of.
type refreshRequest struct {
	Cache string `json:"cache" validate:"required,oneof=capability webhook"`
}

// NewServer builds the ops HTTP surface and wires its routes.
func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, router: chi.NewRouter(), val: validator.New()}

	s.router.Use(s.withMetrics)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/debug", func(r chi.Router) {
		r.Use(s.withAdminAuth, s.withRateLimit)
		r.Get("/capabilities", s.handleDebugCapabilities)
		r.Get("/webhooks", s.handleDebugWebhooks)
		r.Post("/refresh", s.handleDebugRefresh)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.cfg.Metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(ww.status),
		).Observe(time.Since(start).Seconds())
	})
}

// withAdminAuth gates /debug/* behind the configured policy. A caller
// identifies their role via the X-Admin-Role header; a missing Authorizer
// means the deployment hasn't opted into policy enforcement and every
// request passes.
func (s *Server) withAdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Authorizer == nil {
			next.ServeHTTP(w, r)
			return
		}

		input := map[string]any{
			"role":   r.Header.Get("X-Admin-Role"),
			"path":   r.URL.Path,
			"method": r.Method,
		}
		allowed, err := s.cfg.Authorizer.Allow(r.Context(), input)
		if err != nil {
			http.Error(w, "policy evaluation failed", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-Admin-Role")
		if key == "" {
			key = "anonymous"
		}
		allowed, err := s.cfg.RateLimiter.Allow(r.Context(), "ops:"+key)
		if err != nil {
			http.Error(w, "rate limit check failed", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthz reports process liveness only: it never touches the
// caches or datastore, since a transient upstream outage must not flip a
// live process into "unhealthy" and trigger a restart loop.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports whether the processor is in the Running state.
// Processor.Start enters Running before it starts the caches and the
// consumer, so the probe also reports ready while Start is in progress.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Processor == nil || s.cfg.Processor.State() != processor.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDebugCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Capabilities == nil {
		http.Error(w, "capability cache not configured", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Capabilities.ServiceData())
}

func (s *Server) handleDebugWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Webhooks == nil {
		http.Error(w, "webhook cache not configured", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Webhooks.ServiceData())
}

func (s *Server) handleDebugRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.val.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("validation failed: %v", err), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Cache {
	case "capability":
		if s.cfg.Capabilities == nil {
			http.Error(w, "capability cache not configured", http.StatusNotImplemented)
			return
		}
		err = s.cfg.Capabilities.Refresh(r.Context())
	case "webhook":
		if s.cfg.Webhooks == nil {
			http.Error(w, "webhook cache not configured", http.StatusNotImplemented)
			return
		}
		err = s.cfg.Webhooks.Refresh(r.Context())
	}

	if err != nil {
		if s.cfg.Log != nil {
			s.cfg.Log.Error("forced cache refresh failed", zap.String("cache", req.Cache), zap.Error(err))
		}
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed", "cache": req.Cache})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
