package entrystore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curio/internal/entry"
)

const entryColumns = "entry_id, source_type, source_channel, source_path, pipeline_status, ingest_state, cognitive_status, capture_fingerprint, metadata_json, created_at, updated_at, verbatim_path, verbatim_preview, content_lang, transcription_text, transcription_segments_json, transcription_metadata_json, transcription_error_json, extracted_text, extraction_segments_json, extraction_metadata_json, extraction_error_json, normalized_text, normalized_segments_json, normalization_metadata_json, normalization_error_json, summary, display_title, summary_model, semantic_tags_json, type_id, type_label, domain_id, domain_label, classification_model, is_classified"

const entryColumnCount = 36

var entryPlaceholders = makePlaceholders(entryColumnCount)

const entryUpdateSet = "source_type = ?, source_channel = ?, source_path = ?, pipeline_status = ?, ingest_state = ?, cognitive_status = ?, capture_fingerprint = ?, metadata_json = ?, created_at = ?, updated_at = ?, verbatim_path = ?, verbatim_preview = ?, content_lang = ?, transcription_text = ?, transcription_segments_json = ?, transcription_metadata_json = ?, transcription_error_json = ?, extracted_text = ?, extraction_segments_json = ?, extraction_metadata_json = ?, extraction_error_json = ?, normalized_text = ?, normalized_segments_json = ?, normalization_metadata_json = ?, normalization_error_json = ?, summary = ?, display_title = ?, summary_model = ?, semantic_tags_json = ?, type_id = ?, type_label = ?, domain_id = ?, domain_label = ?, classification_model = ?, is_classified = ?"

func entryArgs(record entry.Entry) ([]any, error) {
	fields, err := entryFieldArgs(record)
	if err != nil {
		return nil, err
	}
	return append([]any{record.EntryID}, fields...), nil
}

func entryUpdateArgs(record entry.Entry) ([]any, error) {
	return entryFieldArgs(record)
}

func entryFieldArgs(record entry.Entry) ([]any, error) {
	metadataJSON, err := marshalTree(record.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if metadataJSON == nil {
		metadataJSON = "{}"
	}

	transcriptionSegments, err := marshalSegments(record.TranscriptionSegments)
	if err != nil {
		return nil, fmt.Errorf("marshal transcription segments: %w", err)
	}
	transcriptionMetadata, err := marshalTree(record.TranscriptionMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshal transcription metadata: %w", err)
	}
	extractionSegments, err := marshalSegments(record.ExtractionSegments)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction segments: %w", err)
	}
	extractionMetadata, err := marshalTree(record.ExtractionMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction metadata: %w", err)
	}
	normalizedSegments, err := marshalSegments(record.NormalizedSegments)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized segments: %w", err)
	}
	normalizationMetadata, err := marshalTree(record.NormalizationMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshal normalization metadata: %w", err)
	}
	tagsJSON, err := marshalTags(record.SemanticTags)
	if err != nil {
		return nil, fmt.Errorf("marshal semantic tags: %w", err)
	}

	return []any{
		record.SourceType,
		record.SourceChannel,
		nullableString(record.SourcePath),
		string(record.PipelineStatus),
		string(record.IngestState()),
		record.CognitiveStatus,
		nullableString(record.Fingerprint()),
		metadataJSON,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullableString(record.VerbatimPath),
		nullableString(record.VerbatimPreview),
		nullableString(record.ContentLang),
		nullableString(record.TranscriptionText),
		transcriptionSegments,
		transcriptionMetadata,
		marshalFailure(record.TranscriptionError),
		nullableString(record.ExtractedText),
		extractionSegments,
		extractionMetadata,
		marshalFailure(record.ExtractionError),
		nullableString(record.NormalizedText),
		normalizedSegments,
		normalizationMetadata,
		marshalFailure(record.NormalizationError),
		nullableString(record.Summary),
		nullableString(record.DisplayTitle),
		nullableString(record.SummaryModel),
		tagsJSON,
		nullableString(record.TypeID),
		nullableString(record.TypeLabel),
		nullableString(record.DomainID),
		nullableString(record.DomainLabel),
		nullableString(record.ClassificationModel),
		boolToInt(record.IsClassified),
	}, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (entry.Entry, error) {
	var (
		entryID               string
		sourceType            string
		sourceChannel         string
		sourcePath            sql.NullString
		pipelineStatus        string
		ingestState           string
		cognitiveStatus       string
		fingerprint           sql.NullString
		metadataJSON          string
		createdRaw            string
		updatedRaw            string
		verbatimPath          sql.NullString
		verbatimPreview       sql.NullString
		contentLang           sql.NullString
		transcriptionText     sql.NullString
		transcriptionSegments sql.NullString
		transcriptionMetadata sql.NullString
		transcriptionError    sql.NullString
		extractedText         sql.NullString
		extractionSegments    sql.NullString
		extractionMetadata    sql.NullString
		extractionError       sql.NullString
		normalizedText        sql.NullString
		normalizedSegments    sql.NullString
		normalizationMetadata sql.NullString
		normalizationError    sql.NullString
		summary               sql.NullString
		displayTitle          sql.NullString
		summaryModel          sql.NullString
		tagsJSON              sql.NullString
		typeID                sql.NullString
		typeLabel             sql.NullString
		domainID              sql.NullString
		domainLabel           sql.NullString
		classificationModel   sql.NullString
		isClassified          sql.NullInt64
	)

	if err := scanner.Scan(
		&entryID,
		&sourceType,
		&sourceChannel,
		&sourcePath,
		&pipelineStatus,
		&ingestState,
		&cognitiveStatus,
		&fingerprint,
		&metadataJSON,
		&createdRaw,
		&updatedRaw,
		&verbatimPath,
		&verbatimPreview,
		&contentLang,
		&transcriptionText,
		&transcriptionSegments,
		&transcriptionMetadata,
		&transcriptionError,
		&extractedText,
		&extractionSegments,
		&extractionMetadata,
		&extractionError,
		&normalizedText,
		&normalizedSegments,
		&normalizationMetadata,
		&normalizationError,
		&summary,
		&displayTitle,
		&summaryModel,
		&tagsJSON,
		&typeID,
		&typeLabel,
		&domainID,
		&domainLabel,
		&classificationModel,
		&isClassified,
	); err != nil {
		return entry.Entry{}, err
	}

	metadata, err := unmarshalTree(metadataJSON)
	if err != nil {
		return entry.Entry{}, fmt.Errorf("decode metadata for entry %s: %w", entryID, err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	record := entry.Entry{
		EntryID:             entryID,
		SourceType:          sourceType,
		SourceChannel:       sourceChannel,
		SourcePath:          sourcePath.String,
		PipelineStatus:      entry.Status(pipelineStatus),
		CognitiveStatus:     cognitiveStatus,
		Metadata:            metadata,
		VerbatimPath:        verbatimPath.String,
		VerbatimPreview:     verbatimPreview.String,
		ContentLang:         contentLang.String,
		TranscriptionText:   transcriptionText.String,
		ExtractedText:       extractedText.String,
		NormalizedText:      normalizedText.String,
		Summary:             summary.String,
		DisplayTitle:        displayTitle.String,
		SummaryModel:        summaryModel.String,
		TypeID:              typeID.String,
		TypeLabel:           typeLabel.String,
		DomainID:            domainID.String,
		DomainLabel:         domainLabel.String,
		ClassificationModel: classificationModel.String,
	}
	if isClassified.Valid {
		record.IsClassified = isClassified.Int64 != 0
	}

	if record.TranscriptionSegments, err = unmarshalSegments(transcriptionSegments); err != nil {
		return entry.Entry{}, fmt.Errorf("decode transcription segments for entry %s: %w", entryID, err)
	}
	if record.TranscriptionMetadata, err = unmarshalNullableTree(transcriptionMetadata); err != nil {
		return entry.Entry{}, fmt.Errorf("decode transcription metadata for entry %s: %w", entryID, err)
	}
	if record.TranscriptionError, err = unmarshalFailure(transcriptionError); err != nil {
		return entry.Entry{}, fmt.Errorf("decode transcription error for entry %s: %w", entryID, err)
	}
	if record.ExtractionSegments, err = unmarshalSegments(extractionSegments); err != nil {
		return entry.Entry{}, fmt.Errorf("decode extraction segments for entry %s: %w", entryID, err)
	}
	if record.ExtractionMetadata, err = unmarshalNullableTree(extractionMetadata); err != nil {
		return entry.Entry{}, fmt.Errorf("decode extraction metadata for entry %s: %w", entryID, err)
	}
	if record.ExtractionError, err = unmarshalFailure(extractionError); err != nil {
		return entry.Entry{}, fmt.Errorf("decode extraction error for entry %s: %w", entryID, err)
	}
	if record.NormalizedSegments, err = unmarshalSegments(normalizedSegments); err != nil {
		return entry.Entry{}, fmt.Errorf("decode normalized segments for entry %s: %w", entryID, err)
	}
	if record.NormalizationMetadata, err = unmarshalNullableTree(normalizationMetadata); err != nil {
		return entry.Entry{}, fmt.Errorf("decode normalization metadata for entry %s: %w", entryID, err)
	}
	if record.NormalizationError, err = unmarshalFailure(normalizationError); err != nil {
		return entry.Entry{}, fmt.Errorf("decode normalization error for entry %s: %w", entryID, err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &record.SemanticTags); err != nil {
			return entry.Entry{}, fmt.Errorf("decode semantic tags for entry %s: %w", entryID, err)
		}
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func marshalTree(tree map[string]any) (any, error) {
	if tree == nil {
		return nil, nil
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalTree(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func unmarshalNullableTree(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid {
		return nil, nil
	}
	return unmarshalTree(raw.String)
}

func marshalSegments(segments []map[string]any) (any, error) {
	if segments == nil {
		return nil, nil
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalTags(tags []string) (any, error) {
	if tags == nil {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalSegments(raw sql.NullString) ([]map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var segments []map[string]any
	if err := json.Unmarshal([]byte(raw.String), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

func marshalFailure(failure *entry.Failure) any {
	if failure == nil {
		return nil
	}
	data, err := json.Marshal(failure)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalFailure(raw sql.NullString) (*entry.Failure, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var failure entry.Failure
	if err := json.Unmarshal([]byte(raw.String), &failure); err != nil {
		return nil, err
	}
	return &failure, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
