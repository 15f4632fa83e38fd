package preflight

import (
	"context"
	"fmt"

	"curio/internal/config"
	"curio/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data directory (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckFreeSpace("Data free space", cfg.Paths.DataDir, cfg.Ingest.MinFreeSpaceGiB))

	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	for _, root := range cfg.Ingest.WatchRoots {
		results = append(results, CheckDirectoryAccess(fmt.Sprintf("Watch root %q", root.Name), root.Path))
	}

	if cfg.SemanticGateway() {
		results = append(results, CheckSemanticGateway(ctx, cfg))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// CheckSystemDeps evaluates the external binaries the configured lanes need.
// Both the daemon and the CLI status command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	if hasAudioLane(cfg) {
		requirements = append(requirements, deps.Requirement{
			Name:        "Transcriber",
			Command:     cfg.Transcription.Command,
			Description: "Required for audio transcription",
		})
	}
	return deps.CheckBinaries(requirements)
}

func hasAudioLane(cfg *config.Config) bool {
	for _, root := range cfg.Ingest.WatchRoots {
		if root.Lane == "audio" {
			return true
		}
	}
	return false
}
