// Package api provides the HTTP surface of the hub: health probes, the
// WebSocket control channel endpoint and a small read-mostly admin API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/amurg-ai/webshell/hub/auth"
	"github.com/amurg-ai/webshell/hub/config"
	"github.com/amurg-ai/webshell/hub/registry"
	"github.com/amurg-ai/webshell/hub/store"
)

// Bridge is the part of the bridge server the API exposes.
type Bridge interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	Sessions() []registry.Info
	CloseSession(id string) bool
	ChannelCount() int
}

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	authProvider auth.Provider
	bridge       Bridge
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	rl           *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, ap auth.Provider, b Bridge, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		authProvider: ap,
		bridge:       b,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// The bridge authenticates the upgrade itself.
	mux.With(limitByIP(srv.rl)).Get("/ws", b.HandleWS)

	// Operator routes see every channel's sessions, so they exist only
	// behind a token.
	if ap.Required() {
		mux.Group(func(r chi.Router) {
			r.Use(limitByIP(srv.rl))
			r.Use(srv.authMiddleware)
			r.Use(maxBodyMiddleware(cfg.Server.MaxBodyBytes))

			r.Get("/api/sessions", srv.handleListSessions)
			r.Delete("/api/sessions/{sessionID}", srv.handleCloseSession)
			r.Get("/api/audit", srv.handleListAuditEvents)
		})
	} else {
		srv.logger.Warn("operator API disabled; set auth.mode to jwt or jwks to enable it")
	}

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of rate limiter state.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	go s.rl.sweep(ctx, 5*time.Minute, 10*time.Minute)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).Truncate(time.Second).String(),
		"channels": s.bridge.ChannelCount(),
		"sessions": len(s.bridge.Sessions()),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.bridge.Sessions()
	if sessions == nil {
		sessions = []registry.Info{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.bridge.CloseSession(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	identity := getIdentityFromContext(r.Context())
	s.logger.Info("session closed by operator", "session_id", id, "subject", identity.Subject)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Action:    q.Get("action"),
		ChannelID: q.Get("channel_id"),
		SessionID: q.Get("session_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		f.Offset = n
	}

	events, err := s.store.ListEvents(r.Context(), f)
	if err != nil {
		s.logger.Error("list audit events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
