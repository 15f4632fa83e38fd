// Package services defines shared utilities consumed by the pipeline stage
// workers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp entry IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across stages.
//   - The StageError result type carried by stage transforms so workers can
//     decide between in-process retry and terminal failure without inspecting
//     error strings.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
