// Package entrystore is the persistence gateway for entries. Every mutation
// is a named operation that fetches the current snapshot, applies the pure
// aggregate transformation, and writes the result back atomically; callers
// never update fields directly. Two backends implement the same contract: a
// process-local map for tests and single-process runs, and a SQLite table
// for durable deployments.
package entrystore
