package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tillsync/internal/sqlite"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import the local collections as JSONL files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <dir>",
		Short: "Write one <collection>.jsonl file per collection into dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				if err := e.backend.ExportJSONL(args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(a.out, "exported to", args[0])
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <dir>",
		Short: "Replace collections with the JSONL files found in dir",
		Long: `Import replaces every collection that has a <collection>.jsonl file in dir.
Collections without a file are left alone. The outbox is not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				report, err := e.backend.ImportJSONL(args[0])
				if err != nil {
					return err
				}
				return a.render(report, func(w io.Writer) error {
					return writeImportReport(w, report)
				})
			})
		},
	})
	return cmd
}

func writeImportReport(w io.Writer, report sqlite.ImportReport) error {
	colls := make([]string, 0, len(report.Loaded))
	for coll := range report.Loaded {
		colls = append(colls, coll)
	}
	sort.Strings(colls)
	for _, coll := range colls {
		line := fmt.Sprintf("imported %d %s", report.Loaded[coll], coll)
		if n := report.Skipped[coll]; n > 0 {
			line += fmt.Sprintf(" (%d skipped)", n)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
