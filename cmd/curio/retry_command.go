package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Re-capture a failed entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue) error {
				outcome, err := capture.Retry(cmd.Context(), store, queue, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case outcome.NewEntryID != "":
					fmt.Fprintf(out, "Resubmitted manual body as entry %s\n", outcome.NewEntryID)
				case outcome.RequeuedPath != "":
					fmt.Fprintf(out, "Returned %s to incoming; the daemon will re-capture it\n", outcome.RequeuedPath)
				}
				return nil
			})
		},
	}
}
