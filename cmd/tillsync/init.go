package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize tillsync storage",
		Long: `Init creates the configuration directory with a default config.yaml and
the data directory with an empty database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				fmt.Fprintln(a.out, "tillsync initialized")
				fmt.Fprintln(a.out, "  config:", a.configDir)
				_, err := fmt.Fprintln(a.out, "  data:  ", e.backend.DataDir())
				return err
			})
		},
	}
}
