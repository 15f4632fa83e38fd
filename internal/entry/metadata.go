package entry

// Metadata keys shared by the stores and workers.
const (
	// MetadataKeyFingerprint is required on every capture.
	MetadataKeyFingerprint = "capture_fingerprint"
	// MetadataKeyFingerprintAlgo records how the fingerprint was computed.
	MetadataKeyFingerprintAlgo = "fingerprint_algo"
	// MetadataKeyCaptureMetadata nests pipeline bookkeeping and stage
	// provenance inside the free-form metadata tree.
	MetadataKeyCaptureMetadata = "capture_metadata"
	// MetadataKeyCaptureEvents holds the append-only event trail.
	MetadataKeyCaptureEvents = "capture_events"
	// MetadataKeyPipelineHistory holds the append-only transition trail.
	MetadataKeyPipelineHistory = "pipeline_history"
	// MetadataKeyLastTransition mirrors the newest pipeline_history record.
	MetadataKeyLastTransition = "last_transition"
	// MetadataKeyIngestState is the persisted coarse state.
	MetadataKeyIngestState = "ingest_state"
	// MetadataKeyPipelineStatus mirrors the entry's pipeline status.
	MetadataKeyPipelineStatus = "pipeline_status"
	// MetadataKeyManualTextBody carries the inline body of a manual capture.
	MetadataKeyManualTextBody = "manual_text_body"
	// MetadataKeyManualTextLength is the rune count of the manual body.
	MetadataKeyManualTextLength = "manual_text_length"
)

// PipelineTransitionEvent is the capture event type recorded for every
// accepted status transition.
const PipelineTransitionEvent = "pipeline_status_changed"

// MergeTree deep-merges patch into existing and returns a new map. Nil patch
// values are skipped so callers can express "keep whatever is there". Nested
// maps merge recursively; any other value replaces wholesale.
func MergeTree(existing map[string]any, patch map[string]any) map[string]any {
	result := make(map[string]any, len(existing)+len(patch))
	for key, value := range existing {
		result[key] = value
	}
	for key, value := range patch {
		if value == nil {
			continue
		}
		if patchMap, ok := value.(map[string]any); ok {
			if currentMap, ok := result[key].(map[string]any); ok {
				result[key] = MergeTree(currentMap, patchMap)
				continue
			}
		}
		result[key] = value
	}
	return result
}

// CloneTree returns a deep copy of a metadata tree. Slices and nested maps
// are copied; scalar values are shared.
func CloneTree(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneTree(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(typed))
		for i, item := range typed {
			out[i] = CloneTree(item)
		}
		return out
	default:
		return value
	}
}

func captureMetadataOf(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	if nested, ok := metadata[MetadataKeyCaptureMetadata].(map[string]any); ok {
		return nested
	}
	return nil
}

// FingerprintOf extracts the capture fingerprint from a metadata tree.
func FingerprintOf(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if fp, ok := metadata[MetadataKeyFingerprint].(string); ok {
		return fp
	}
	return ""
}
