package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tillsync version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			module := "unknown"
			if info, ok := debug.ReadBuildInfo(); ok {
				module = info.Main.Path
			}
			_, err := fmt.Fprintf(a.out, "tillsync %s\nmodule: %s\n", version, module)
			return err
		},
	}
}
