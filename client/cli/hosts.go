package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List saved hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Hosts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved hosts.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTARGET\tAUTH")
			for _, h := range cfg.Hosts {
				auth := "password"
				if h.PrivateKeyFile != "" {
					auth = "key"
				}
				if h.Password == "" && h.PrivateKeyFile == "" {
					auth = "none"
				}
				fmt.Fprintf(w, "%s\t%s@%s:%d\t%s\n", h.Name, h.Username, h.Host, h.Port, auth)
			}
			return w.Flush()
		},
	}
}
