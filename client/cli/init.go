package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/tui/setup"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Setup wizard to generate a client config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			plain, _ := cmd.Flags().GetBool("plain")
			if output == "" {
				output = config.DefaultPath()
			}

			if !plain && stdinIsTerminal(cmd) {
				path, err := setup.Run(output)
				if errors.Is(err, setup.ErrCancelled) {
					fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
				return nil
			}
			_, err := setup.RunPlain(cmd.InOrStdin(), cmd.OutOrStdout(), output)
			return err
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: "+config.DefaultPath()+")")
	cmd.Flags().Bool("plain", false, "ask line by line instead of showing the full-screen wizard")
	return cmd
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
