package entrystore

import "errors"

var (
	// ErrEntryNotFound reports an entry id with no stored row.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrDuplicateFingerprint reports a create that collides with an
	// existing active or completed entry on the same channel.
	ErrDuplicateFingerprint = errors.New("fingerprint already captured on this channel")
	// ErrMissingFingerprint reports a create whose metadata carries no
	// capture fingerprint.
	ErrMissingFingerprint = errors.New("capture fingerprint missing from metadata")
)
