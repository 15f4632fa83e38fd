package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Capture a text entry",
		Long:  "Capture a text entry from the argument, or from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			return ctx.withStores(func(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue) error {
				record, err := capture.NewManual(store, queue).Capture(cmd.Context(), body, title)
				if err != nil {
					if errors.Is(err, entrystore.ErrDuplicateFingerprint) {
						return errors.New("this text was already captured")
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Captured entry %s (%d chars)\n",
					record.EntryID, len(strings.TrimSpace(body)))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Display title for the entry")
	return cmd
}

func readBody(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no text provided")
	}
	return string(data), nil
}
