package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

func newEntriesCommand(ctx *commandContext) *cobra.Command {
	entriesCmd := &cobra.Command{
		Use:   "entries",
		Short: "Inspect captured entries",
	}

	entriesCmd.AddCommand(newEntriesListCommand(ctx))
	entriesCmd.AddCommand(newEntriesShowCommand(ctx))

	return entriesCmd
}

func newEntriesListCommand(ctx *commandContext) *cobra.Command {
	var (
		term     string
		channel  string
		types    []string
		states   []string
		statuses []string
		since    string
		until    string
		sortBy   string
		desc     bool
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries with optional filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := entrystore.SearchQuery{
				Term:          term,
				SourceChannel: channel,
				SourceTypes:   types,
				SortBy:        sortBy,
				Descending:    desc,
				Limit:         limit,
				Offset:        offset,
			}
			for _, state := range states {
				query.IngestStates = append(query.IngestStates, entry.State(state))
			}
			for _, status := range statuses {
				query.PipelineStatuses = append(query.PipelineStatuses, entry.Status(status))
			}
			var err error
			if query.CreatedAfter, err = parseTimeFlag(since); err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}
			if query.CreatedBefore, err = parseTimeFlag(until); err != nil {
				return fmt.Errorf("parse --until: %w", err)
			}

			return ctx.withStores(func(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue) error {
				records, err := store.SearchEntries(cmd.Context(), query)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No entries matched")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, record := range records {
					rows = append(rows, []string{
						shortID(record.EntryID),
						string(record.IngestState()),
						string(record.PipelineStatus),
						record.SourceChannel,
						truncate(entryTitle(record), 40),
						record.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "STATE", "STATUS", "CHANNEL", "TITLE", "CREATED"},
					rows,
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&term, "term", "", "Match against title, summary, text, and tags")
	cmd.Flags().StringVar(&channel, "channel", "", "Filter by source channel")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Filter by source type (repeatable)")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by ingest state (repeatable)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by pipeline status (repeatable)")
	cmd.Flags().StringVar(&since, "since", "", "Only entries created at or after this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Only entries created before this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&sortBy, "sort", "created_at", "Sort field: created_at or updated_at")
	cmd.Flags().BoolVar(&desc, "desc", false, "Sort descending")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	return cmd
}

func newEntriesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one entry in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue) error {
				record, err := store.GetEntry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printEntry(cmd, record)
				return nil
			})
		},
	}
}

func printEntry(cmd *cobra.Command, record entry.Entry) {
	out := cmd.OutOrStdout()
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-16s %s\n", label+":", value)
		}
	}

	field("Entry", record.EntryID)
	field("Title", entryTitle(record))
	field("State", string(record.IngestState()))
	field("Status", string(record.PipelineStatus))
	field("Channel", record.SourceChannel)
	field("Type", record.SourceType)
	field("Source", record.SourcePath)
	field("Language", record.ContentLang)
	field("Created", record.CreatedAt.Local().Format(time.RFC3339))
	field("Updated", record.UpdatedAt.Local().Format(time.RFC3339))
	if record.IsClassified {
		field("Taxonomy", fmt.Sprintf("%s / %s", record.TypeLabel, record.DomainLabel))
	}
	if len(record.SemanticTags) > 0 {
		field("Tags", strings.Join(record.SemanticTags, ", "))
	}
	if stage, code, retryable, ok := lastError(record); ok {
		field("Error", fmt.Sprintf("%s: %s (retryable=%t)", stage, code, retryable))
	}
	if record.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", record.Summary)
	}
	if preview := record.VerbatimPreview; preview != "" {
		fmt.Fprintf(out, "\nPreview:\n%s\n", preview)
	}

	events := record.CaptureEvents()
	if len(events) > 0 {
		fmt.Fprintln(out, "\nRecent events:")
		start := len(events) - 5
		if start < 0 {
			start = 0
		}
		for _, event := range events[start:] {
			eventType, _ := event["type"].(string)
			timestamp, _ := event["timestamp"].(string)
			fmt.Fprintf(out, "  %s  %s\n", timestamp, eventType)
		}
	}
}

// lastError reads capture_metadata.last_error, which the stage workers
// populate whenever an entry fails.
func lastError(record entry.Entry) (stage, code string, retryable, ok bool) {
	meta, _ := record.Metadata[entry.MetadataKeyCaptureMetadata].(map[string]any)
	lastErr, _ := meta["last_error"].(map[string]any)
	if lastErr == nil {
		return "", "", false, false
	}
	stage, _ = lastErr["stage"].(string)
	code, _ = lastErr["code"].(string)
	retryable, _ = lastErr["retryable"].(bool)
	return stage, code, retryable, true
}

func entryTitle(record entry.Entry) string {
	if record.DisplayTitle != "" {
		return record.DisplayTitle
	}
	return record.EntryID
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, max int) string {
	if utf8.RuneCountInString(value) <= max {
		return value
	}
	runes := []rune(value)
	return string(runes[:max-1]) + "…"
}

func parseTimeFlag(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02", value, time.Local)
}
