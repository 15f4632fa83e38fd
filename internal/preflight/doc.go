// Package preflight provides readiness checks for the filesystem layout,
// external binaries, and the semantic gateway that curio depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup. If any check fails, the daemon
//     refuses to start rather than capture entries it cannot process.
//   - The CLI "curio status" command uses individual check functions
//     (CheckDirectoryAccess, CheckFreeSpace) to display runtime health.
//
// Checks gated by a config toggle are skipped when the feature is disabled.
package preflight
