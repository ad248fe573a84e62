package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/tui/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var open []string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Manage several sessions in a terminal dashboard",
		Long: "Show every saved host as a session tab. Sessions named with --open are\n" +
			"connected right away; the rest connect on demand.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDashboard(cmd, cfg, open)
		},
	}
	cmd.Flags().StringSliceVarP(&open, "open", "o", nil, "saved hosts to connect on start")
	return cmd
}

func runDashboard(cmd *cobra.Command, cfg *config.Config, open []string) error {
	for _, name := range open {
		if _, ok := cfg.Host(name); !ok {
			return fmt.Errorf("unknown host %q", name)
		}
	}

	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	// A dashboard is still useful offline; the header shows the state.
	if err := c.connect(ctx); err != nil {
		c.logger.Warn("hub unreachable", "error", err)
	}

	ids := make(map[string]string, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		target, err := h.ConnectConfig()
		if err != nil {
			c.logger.Warn("skipping host", "host", h.Name, "error", err)
			continue
		}
		ids[h.Name] = c.store.Create(target, h.Name).ID
	}
	if len(open) > 0 {
		c.store.SetActive(ids[open[0]])
	}

	opts := dashboard.Options{
		HubURL: cfg.Server.URL,
		State:  c.channel.State().String(),
		Store:  c.store,
		Bus:    c.bus,
	}
	errs := make(chan error, 1)
	go func() { errs <- dashboard.Run(ctx, opts) }()

	// Each session event makes the dashboard reload the whole list, so
	// an event published before it subscribed is not lost.
	size := terminalSize(int(os.Stdout.Fd()))
	for _, name := range open {
		if id, ok := ids[name]; ok {
			if err := c.store.Connect(id, size); err != nil {
				c.logger.Warn("connect failed", "host", name, "error", err)
			}
		}
	}
	return <-errs
}
