// Package daemon coordinates the long-running curio process.
//
// It wires configuration, the entry store, the job queue, the four stage
// workers, the watch-folder scanner, and notifications into a single
// lifecycle with flock-based locking to prevent multiple instances.
// Preflight checks run before anything starts so a misconfigured daemon
// refuses to capture entries it cannot process.
//
// Keep orchestration logic here: individual stage semantics live in their
// own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
