package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, entry, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				if daemonRunning(cfg.LockPath()) {
					fmt.Fprintln(out, renderStatusLine("curiod", statusOK, "running", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("curiod", statusWarn, "not running", colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, cfg.DatabasePath(), colorize))
				fmt.Fprintln(out)

				for _, line := range renderSectionHeader("Entries", colorize) {
					fmt.Fprintln(out, line)
				}
				counts, err := store.StatsByIngestState(cmd.Context())
				if err != nil {
					return fmt.Errorf("entry stats: %w", err)
				}
				fmt.Fprintln(out, renderEntryCounts(counts))
				fmt.Fprintln(out)

				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(out, line)
				}
				stats, err := queue.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("queue stats: %w", err)
				}
				fmt.Fprintln(out, renderStatusLine("Pending", statusInfo, strconv.Itoa(stats.Pending), colorize))
				fmt.Fprintln(out, renderStatusLine("Leased", statusInfo, strconv.Itoa(stats.Leased), colorize))
				deadKind := statusInfo
				if stats.DeadLettered > 0 {
					deadKind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Dead-lettered", deadKind, strconv.Itoa(stats.DeadLettered), colorize))
				fmt.Fprintln(out)

				for _, line := range renderSectionHeader("Checks", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, result := range preflight.RunAll(cmd.Context(), cfg) {
					kind := statusError
					if result.Passed {
						kind = statusOK
					}
					fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}
				for _, status := range preflight.CheckSystemDeps(cfg) {
					kind := statusOK
					message := status.Command
					if !status.Available {
						kind = statusError
						if status.Optional {
							kind = statusWarn
						}
						message = status.Detail
					}
					fmt.Fprintln(out, renderStatusLine(status.Name, kind, message, colorize))
				}
				return nil
			})
		},
	}
}

// daemonRunning probes the daemon lock. A held lock means a live daemon.
func daemonRunning(lockPath string) bool {
	probe := flock.New(lockPath)
	ok, err := probe.TryLock()
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	_ = probe.Unlock()
	return false
}

func renderEntryCounts(counts map[entry.State]int) string {
	rows := make([][]string, 0, len(counts))
	total := 0
	for _, state := range entry.AllStates() {
		count, ok := counts[state]
		if !ok {
			continue
		}
		total += count
		rows = append(rows, []string{string(state), strconv.Itoa(count)})
	}
	if len(rows) == 0 {
		return statusIndent + "No entries captured yet"
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	table := renderTable([]string{"STATE", "COUNT"}, rows, []columnAlignment{alignLeft, alignRight})
	return indentBlock(table)
}

func indentBlock(block string) string {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = statusIndent + line
		}
	}
	return strings.Join(lines, "\n")
}
