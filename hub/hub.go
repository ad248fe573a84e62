// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amurg-ai/webshell/hub/api"
	"github.com/amurg-ai/webshell/hub/auth"
	"github.com/amurg-ai/webshell/hub/bridge"
	"github.com/amurg-ai/webshell/hub/config"
	"github.com/amurg-ai/webshell/hub/registry"
	"github.com/amurg-ai/webshell/hub/remoteshell"
	"github.com/amurg-ai/webshell/hub/store"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// purgeInterval is how often expired audit events are deleted.
const purgeInterval = time.Hour

// Hub is the main hub process.
type Hub struct {
	cfg          *config.Config
	store        store.Store
	authProvider auth.Provider
	bridge       *bridge.Server
	api          *api.Server
	logger       *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	factory := remoteshell.NewSSHFactory(remoteshell.Options{
		KnownHostsFile:    cfg.SSH.KnownHostsFile,
		KeepaliveInterval: cfg.SSH.KeepaliveInterval.Duration,
		Logger:            logger,
	})

	br := bridge.New(registry.New(), factory, db, authProvider, logger, bridge.Options{
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		MaxMessageBytes:       cfg.Session.MaxMessageBytes,
		MaxSessionsPerChannel: cfg.Session.MaxPerChannel,
		MessageRate:           cfg.Session.MessageRate,
		MessageBurst:          cfg.Session.MessageBurst,
		MaxQueuedInput:        cfg.Session.MaxQueuedInput,
		ConnectTimeout:        cfg.SSH.ConnectTimeout.Duration,
		HandshakeTimeout:      cfg.SSH.HandshakeTimeout.Duration,
		DefaultSize:           protocol.TermSize{Rows: cfg.SSH.DefaultRows, Cols: cfg.SSH.DefaultCols},
	})

	h := &Hub{
		cfg:          cfg,
		store:        db,
		authProvider: authProvider,
		bridge:       br,
		api:          api.NewServer(db, authProvider, br, cfg, logger),
		logger:       logger.With("component", "hub"),
	}

	if authProvider.Name() == config.AuthNone {
		h.logger.Warn("auth mode is none, any client can open shells through this hub")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			h.logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if cfg.SSH.KnownHostsFile == "" {
		h.logger.Warn("ssh.known_hosts_file not set, remote host keys are not verified")
	}

	return h, nil
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler {
	return h.api.Handler()
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.cfg.Server.Addr,
		Handler:           h.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.api.StartBackgroundTasks(ctx)
	if h.cfg.Storage.Retention.Duration > 0 {
		go h.runRetentionPurger(ctx, h.cfg.Storage.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		// Hijacked WebSocket connections are not tracked by Shutdown.
		h.bridge.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		h.bridge.Close()
		h.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *Hub) close() {
	if err := h.authProvider.Close(); err != nil {
		h.logger.Warn("close auth provider", "error", err)
	}
	if err := h.store.Close(); err != nil {
		h.logger.Warn("close store", "error", err)
	}
}

func (h *Hub) runRetentionPurger(ctx context.Context, retention time.Duration) {
	h.purge(ctx, retention)
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.purge(ctx, retention)
		}
	}
}

func (h *Hub) purge(ctx context.Context, retention time.Duration) {
	n, err := h.store.PurgeEventsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn("retention purge failed", "error", err)
		}
		return
	}
	if n > 0 {
		h.logger.Info("retention purge: deleted old audit events", "count", n)
	}
}
