// Package cli implements the webshell client commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amurg-ai/webshell/client/config"
)

var version = "dev"

// NewRootCmd creates the root cobra command for the webshell client.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "webshell",
		Short:         "webshell client: remote shells through a webshell hub",
		Long:          "webshell opens SSH shell sessions through a webshell hub, sharing one control channel for all of them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newAttachCmd())
	root.AddCommand(newDashboardCmd())
	root.AddCommand(newHostsCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default "+config.DefaultPath()+")")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "webshell", version)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := config.DefaultPath()
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}
