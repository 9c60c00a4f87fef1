package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay the outbox and reconcile with the remote authority",
		Long: `Sync drains the outbox of every syncable collection against the remote
authority and then reconciles each collection with the server's copy.
Entries that fail stay queued for the next sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				coord, err := e.remote()
				if err != nil {
					return err
				}
				report, syncErr := coord.Sync(cmd.Context())
				if syncErr != nil && report.Started.IsZero() {
					return syncErr
				}
				if err := a.render(report, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ENTITY\tSYNCED\tFAILED\tDEFERRED\tCOMPACTED")
					for _, d := range report.Drains {
						fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", d.EntityType, d.Synced, d.Failed, d.Deferred, d.Compacted)
					}
					if err := tw.Flush(); err != nil {
						return err
					}
					_, err := fmt.Fprintf(w, "pending: %d\n", report.Pending)
					return err
				}); err != nil {
					return err
				}
				return syncErr
			})
		},
	}
}

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload every local collection as one snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				coord, err := e.remote()
				if err != nil {
					return err
				}
				snap, err := coord.PushSnapshot(cmd.Context())
				if err != nil {
					return err
				}
				counts := map[types.EntityType]int{}
				for _, et := range types.SyncableEntityTypes {
					counts[et] = len(snap.Records(et))
				}
				return a.render(counts, func(w io.Writer) error {
					return writeCounts(w, "pushed", counts)
				})
			})
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Replace local collections with the server's snapshot",
		Long: `Restore downloads the snapshot for the configured customer and business
and replaces every syncable local collection with it. Queued outbox entries
are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				coord, err := e.remote()
				if err != nil {
					return err
				}
				counts, err := coord.RestoreSnapshot(cmd.Context())
				if err != nil {
					return err
				}
				return a.render(counts, func(w io.Writer) error {
					return writeCounts(w, "restored", counts)
				})
			})
		},
	}
}

func writeCounts(w io.Writer, verb string, counts map[types.EntityType]int) error {
	keys := make([]string, 0, len(counts))
	for et := range counts {
		keys = append(keys, string(et))
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d %s\n", verb, counts[types.EntityType(k)], k); err != nil {
			return err
		}
	}
	return nil
}

// statusView is the output of the status command.
type statusView struct {
	Pending int                 `json:"pending" yaml:"pending"`
	Remote  *types.SyncMetadata `json:"remote,omitempty" yaml:"remote,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending writes and the server's last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				pending, err := e.backend.Outbox().Count()
				if err != nil {
					return err
				}
				view := statusView{Pending: pending}
				if e.coordinator != nil {
					meta, err := e.coordinator.RemoteStatus(cmd.Context())
					if err != nil {
						return err
					}
					view.Remote = &meta
				}
				return a.render(view, func(w io.Writer) error {
					fmt.Fprintf(w, "pending: %d\n", view.Pending)
					if view.Remote == nil {
						_, err := fmt.Fprintln(w, "remote:  not configured")
						return err
					}
					last := "never"
					if view.Remote.LastSyncTimestamp != nil {
						last = view.Remote.LastSyncTimestamp.Format("2006-01-02 15:04:05Z07:00")
					}
					_, err := fmt.Fprintf(w, "remote:  %s (last sync %s)\n", view.Remote.Status, last)
					return err
				})
			})
		},
	}
}
