// Package entry defines the Entry aggregate and the pipeline state machine.
//
// An Entry moves through a coarse ingest_state (captured, queued, processing,
// processed, failed) driven by fine-grained pipeline_status values. The
// transition table is the single source of truth: a status is either accepted
// from the current state, resolving the next state, or the transition is
// illegal and the caller must treat it as a fatal programming error.
//
// Entries are value-semantics records: every mutation helper returns a
// modified copy so stores can persist optimistically without aliasing bugs.
package entry
