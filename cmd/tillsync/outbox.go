package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// outboxView is the output of the outbox command.
type outboxView struct {
	Pending int                 `json:"pending"`
	Entries []types.OutboxEntry `json:"entries"`
}

func newOutboxCmd(a *app) *cobra.Command {
	var countOnly bool
	cmd := &cobra.Command{
		Use:   "outbox [collection]",
		Short: "Show the writes waiting to be synced",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				outbox := e.backend.Outbox()
				var (
					entries []types.OutboxEntry
					err     error
				)
				if len(args) == 1 {
					et, perr := types.ParseEntityType(args[0])
					if perr != nil {
						return perr
					}
					entries, err = outbox.Pending(et)
				} else {
					entries, err = outbox.All()
				}
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []types.OutboxEntry{}
				}

				view := outboxView{Pending: len(entries), Entries: entries}
				if countOnly {
					view.Entries = nil
				}
				doc, err := plain(view)
				if err != nil {
					return err
				}
				return a.render(doc, func(w io.Writer) error {
					if countOnly {
						_, err := fmt.Fprintln(w, view.Pending)
						return err
					}
					return writeOutboxTable(w, entries)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&countOnly, "count", false, "print only the number of pending entries")
	return cmd
}

func writeOutboxTable(w io.Writer, entries []types.OutboxEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOP\tENTITY\tRECORD\tQUEUED")
	for _, e := range entries {
		m := e.Mutation
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, m.Op(), m.Entity(), m.RecordID(), e.Timestamp.Format(time.RFC3339))
	}
	return tw.Flush()
}
