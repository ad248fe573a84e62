package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/amurg-ai/webshell/client/channel"
	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/client/sessions"
)

// client wires the channel manager, session store and event bus together.
type client struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *eventbus.Bus
	channel *channel.Manager
	store   *sessions.Store
	logFile io.Closer
}

func newClient(cfg *config.Config) (*client, error) {
	bus := eventbus.New()

	var w io.Writer = io.Discard
	var logFile io.Closer
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, logFile = f, f
	}
	logger := newLogger(cfg.Logging.Level, w, bus)

	mgr := channel.New(channel.Options{
		URL:             cfg.Server.URL,
		Token:           cfg.Server.Token,
		TLSSkipVerify:   cfg.Server.TLSSkipVerify,
		DialTimeout:     cfg.Server.DialTimeout.Duration,
		BaseDelay:       cfg.Reconnect.BaseDelay.Duration,
		MaxAttempts:     cfg.Reconnect.MaxAttempts,
		ReconnectOnSend: cfg.Reconnect.ReconnectOnSend,
		Logger:          logger,
	})
	c := &client{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		channel: mgr,
		store:   sessions.New(mgr, bus, logger),
		logFile: logFile,
	}
	mgr.OnStateChange(c.channelStateChanged)
	return c, nil
}

// channelStateChanged publishes the state and fails live sessions when the
// channel drops, since the hub closes them with it.
func (c *client) channelStateChanged(s channel.State) {
	c.bus.PublishType(eventbus.ChannelState, eventbus.ChannelStateData{
		State:   s.String(),
		Attempt: c.channel.Attempt(),
	})
	switch s {
	case channel.StateReconnecting:
		c.store.ChannelLost("connection to hub lost")
	case channel.StateFailed:
		c.store.ChannelLost("connection to hub failed")
	}
}

func (c *client) connect(ctx context.Context) error {
	if err := c.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect to hub %s: %w", c.cfg.Server.URL, err)
	}
	return nil
}

func (c *client) close() {
	_ = c.channel.Close()
	c.bus.Close()
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}

// newLogger writes records at the configured level to w and tees them onto
// the bus for the dashboard.
func newLogger(level string, w io.Writer, bus *eventbus.Bus) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	return slog.New(eventbus.NewSlogHandler(inner, bus))
}
