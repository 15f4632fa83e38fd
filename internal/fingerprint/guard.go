package fingerprint

import (
	"context"
	"fmt"

	"curio/internal/entry"
	"curio/internal/entrystore"
)

// Decision reasons returned by the guard.
const (
	ReasonNoExistingEntry   = "no_existing_entry"
	ReasonActiveOrCompleted = "existing_entry_active_or_completed"
	ReasonRetryAllowed      = "existing_entry_retry_allowed"
)

// Decision is the outcome of an idempotency lookup.
type Decision struct {
	ShouldProcess   bool
	Reason          string
	ExistingEntryID string
}

// Guard answers whether a capture should produce a new entry. It only needs
// fingerprint lookups from the store.
type Guard struct {
	reader entrystore.FingerprintReader
}

// NewGuard builds a guard over the given store reader.
func NewGuard(reader entrystore.FingerprintReader) *Guard {
	return &Guard{reader: reader}
}

// Evaluate looks up the fingerprint on the channel and decides. An existing
// entry blocks re-capture unless its pipeline status is a failure; unknown
// statuses never block, so a downgraded deployment cannot strand captures.
func (g *Guard) Evaluate(ctx context.Context, fingerprint, sourceChannel string) (Decision, error) {
	snapshot, err := g.reader.FindByFingerprint(ctx, fingerprint, sourceChannel)
	if err != nil {
		return Decision{}, fmt.Errorf("fingerprint lookup: %w", err)
	}
	if snapshot == nil {
		return Decision{ShouldProcess: true, Reason: ReasonNoExistingEntry}, nil
	}
	if entry.ActiveOrCompleted(snapshot.PipelineStatus) {
		return Decision{
			Reason:          ReasonActiveOrCompleted,
			ExistingEntryID: snapshot.EntryID,
		}, nil
	}
	return Decision{
		ShouldProcess:   true,
		Reason:          ReasonRetryAllowed,
		ExistingEntryID: snapshot.EntryID,
	}, nil
}
