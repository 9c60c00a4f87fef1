package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

const collectionsHelp = `Collections: products, categories, transactions (or sales), users,
settings, subscription.`

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Get a record by id",
		Long:  "Get prints one record from the local store as JSON.\n\n" + collectionsHelp,
		Example: `  tillsync get products srv_12
  tillsync get sales local_1718000000000_3fa9c2b1e`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				svc, err := e.service(args[0])
				if err != nil {
					return err
				}
				rec, err := svc.get(args[1])
				if err != nil {
					return err
				}
				return printJSON(a.out, rec)
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List every record of a collection",
		Long:  "List prints the records of a collection from the local store as a JSON array.\n\n" + collectionsHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				svc, err := e.service(args[0])
				if err != nil {
					return err
				}
				recs, err := svc.list()
				if err != nil {
					return err
				}
				return printJSON(a.out, recs)
			})
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <collection> [id] <json>",
		Short: "Create a record, or patch an existing one",
		Long: `Set without an id creates a record with a temporary id. With an id it
merges the JSON object into the stored record. Id and timestamps in the JSON
are ignored. The write is queued in the outbox until the next sync.

` + collectionsHelp,
		Example: `  tillsync set products '{"name":"Espresso","price":2.5,"stock":40,"active":true}'
  tillsync set products srv_12 '{"price":2.75}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := json.RawMessage(args[len(args)-1])
			return a.withEngine(func(e *engine) error {
				svc, err := e.service(args[0])
				if err != nil {
					return err
				}
				var rec any
				if len(args) == 3 {
					rec, err = svc.patch(args[1], body)
				} else {
					rec, err = svc.create(body)
				}
				if err != nil {
					return err
				}
				return printJSON(a.out, rec)
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record",
		Long:  "Delete removes a record from the local store and queues the deletion.\n\n" + collectionsHelp,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine) error {
				svc, err := e.service(args[0])
				if err != nil {
					return err
				}
				if err := svc.remove(args[1]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "deleted %s %s\n", args[0], args[1])
				return err
			})
		},
	}
}
