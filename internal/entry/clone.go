package entry

// Clone returns a deep copy. Metadata trees, segment slices, and failure
// records are copied so the two values never share mutable state.
func (e Entry) Clone() Entry {
	out := e
	out.Metadata = CloneTree(e.Metadata)
	out.TranscriptionSegments = cloneSegments(e.TranscriptionSegments)
	out.TranscriptionMetadata = CloneTree(e.TranscriptionMetadata)
	out.TranscriptionError = cloneFailure(e.TranscriptionError)
	out.ExtractionSegments = cloneSegments(e.ExtractionSegments)
	out.ExtractionMetadata = CloneTree(e.ExtractionMetadata)
	out.ExtractionError = cloneFailure(e.ExtractionError)
	out.NormalizedSegments = cloneSegments(e.NormalizedSegments)
	out.NormalizationMetadata = CloneTree(e.NormalizationMetadata)
	out.NormalizationError = cloneFailure(e.NormalizationError)
	if e.SemanticTags != nil {
		out.SemanticTags = append([]string(nil), e.SemanticTags...)
	}
	return out
}

func cloneSegments(segments []map[string]any) []map[string]any {
	if segments == nil {
		return nil
	}
	out := make([]map[string]any, len(segments))
	for i, segment := range segments {
		out[i] = CloneTree(segment)
	}
	return out
}

func cloneFailure(failure *Failure) *Failure {
	if failure == nil {
		return nil
	}
	copied := *failure
	return &copied
}
