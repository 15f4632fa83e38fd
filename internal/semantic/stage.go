// Package semantic enriches normalized entries with a summary, display
// title, tags, and taxonomy labels from an LLM gateway, with deterministic
// fallbacks when no gateway is configured.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
	"curio/internal/services"
	"curio/internal/services/llm"
	"curio/internal/stage"
)

const (
	stageName = "semantic"

	profileSummary  = "echo_summary_v1"
	profileClassify = "echo_classify_v1"

	maxTagLength   = 32
	maxTitleLength = 120
)

// Gateway is the slice of the LLM client the stage uses.
type Gateway interface {
	GenerateSemanticResponse(ctx context.Context, profile string, spec llm.PromptSpec) (llm.SemanticResponse, error)
}

// Stage runs semantic enrichment, the terminal pipeline step. A nil gateway
// activates the deterministic fallbacks so the pipeline still completes.
type Stage struct {
	store   entrystore.Gateway
	gateway Gateway
	cfg     config.Semantic
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration)
}

// Option customizes the stage.
type Option func(*Stage)

// WithSleeper overrides how retry backoff waits are performed.
func WithSleeper(sleep func(context.Context, time.Duration)) Option {
	return func(s *Stage) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewStage wires the semantic stage. gateway may be nil when enrichment is
// disabled or unconfigured.
func NewStage(store entrystore.Gateway, gateway Gateway, cfg config.Semantic, logger *slog.Logger, opts ...Option) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Stage{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, stageName),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Definition names the stage and its status arc. Semantic is terminal, so
// there is no successor job type.
func (s *Stage) Definition() stage.Definition {
	return stage.Definition{
		Name:          stageName,
		ProvenanceKey: "semantics",
		InProgress:    entry.StatusSemanticInProgress,
		Complete:      entry.StatusSemanticComplete,
		Failed:        entry.StatusSemanticFailed,
	}
}

// Precondition requires normalized text to enrich.
func (s *Stage) Precondition(snapshot entry.Entry, job jobqueue.Job) error {
	if strings.TrimSpace(snapshot.NormalizedText) == "" {
		return services.NewStageError(stageName, "normalized_text_missing", "no normalized text to enrich")
	}
	return nil
}

// Execute summarizes and classifies the entry.
func (s *Stage) Execute(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) (*stage.Outcome, error) {
	text := snapshot.NormalizedText
	mode, prompt := s.promptFor(text)

	if s.gateway == nil {
		return s.fallbackOutcome(snapshot, mode, prompt), nil
	}

	lang := job.Payload.String(jobqueue.PayloadContentLang)
	if lang == "" {
		lang = snapshot.ContentLang
	}

	attempts := 0
	summaryResp, err := s.callWithRetry(ctx, profileSummary, llm.PromptSpec{
		System:   summarySystemPrompt,
		User:     prompt,
		UserHint: languageHint(lang),
	}, &attempts)
	if err != nil {
		return nil, s.opFailure(ctx, snapshot.EntryID, "summarize", attempts, err)
	}

	classifyResp, err := s.callWithRetry(ctx, profileClassify, llm.PromptSpec{
		System: classifySystemPrompt,
		User:   prompt,
	}, &attempts)
	if err != nil {
		return nil, s.opFailure(ctx, snapshot.EntryID, "classify", attempts, err)
	}

	summary := strings.TrimSpace(summaryResp.Summary)
	if summary == "" {
		summary = fallbackSummary(prompt, s.previewChars())
	}
	title := strings.TrimSpace(summaryResp.DisplayTitle)
	if title == "" {
		title = fallbackTitle(text, lang)
	}
	tags := normalizeTags(summaryResp.Tags)
	model := firstNonEmpty(summaryResp.ModelUsed, s.cfg.Model)

	taxonomy := taxonomyFrom(classifyResp, model)
	classified := taxonomy.TypeLabel != "" && taxonomy.DomainLabel != ""

	provenance := map[string]any{
		"mode":      mode,
		"model":     model,
		"attempts":  attempts,
		"tag_count": len(tags),
		"fallback":  false,
	}
	if classified {
		provenance["type_label"] = taxonomy.TypeLabel
		provenance["domain_label"] = taxonomy.DomainLabel
	}
	if c := summaryResp.Confidence.Summary; c != nil {
		provenance["summary_confidence"] = *c
	}
	if c := classifyResp.Confidence.Classification; c != nil {
		provenance["classification_confidence"] = *c
	}

	return &stage.Outcome{
		Persist: func(ctx context.Context) error {
			if _, err := s.store.SaveSummary(ctx, snapshot.EntryID, entry.SummaryResult{
				Summary:      summary,
				DisplayTitle: title,
				ModelUsed:    model,
				SemanticTags: tags,
			}); err != nil {
				return err
			}
			if !classified {
				return nil
			}
			_, err := s.store.UpdateEntryTaxonomy(ctx, snapshot.EntryID, taxonomy)
			return err
		},
		EventData: map[string]any{
			"mode":      mode,
			"model":     model,
			"attempts":  attempts,
			"tag_count": len(tags),
		},
		Provenance: provenance,
	}, nil
}

// fallbackOutcome completes the stage without a gateway: the summary is the
// head of the text and the title its first line.
func (s *Stage) fallbackOutcome(snapshot entry.Entry, mode, prompt string) *stage.Outcome {
	summary := fallbackSummary(prompt, s.previewChars())
	title := fallbackTitle(snapshot.NormalizedText, snapshot.ContentLang)
	return &stage.Outcome{
		Persist: func(ctx context.Context) error {
			_, err := s.store.SaveSummary(ctx, snapshot.EntryID, entry.SummaryResult{
				Summary:      summary,
				DisplayTitle: title,
				ModelUsed:    "fallback",
			})
			return err
		},
		EventData: map[string]any{
			"mode":     mode,
			"model":    "fallback",
			"attempts": 0,
		},
		Provenance: map[string]any{
			"mode":     mode,
			"model":    "fallback",
			"attempts": 0,
			"fallback": true,
		},
	}
}

// callWithRetry runs one gateway operation with bounded retries and doubling
// backoff, counting every attempt across the stage.
func (s *Stage) callWithRetry(ctx context.Context, profile string, spec llm.PromptSpec, attempts *int) (llm.SemanticResponse, error) {
	maxAttempts := s.cfg.MaxRetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := time.Duration(s.cfg.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		*attempts++
		resp, err := s.gateway.GenerateSemanticResponse(ctx, profile, spec)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var gatewayErr *llm.GatewayError
		retryable := errors.As(err, &gatewayErr) && gatewayErr.Retryable
		if !retryable || attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		if backoff > 0 {
			s.sleep(ctx, backoff<<(attempt-1))
		}
	}
	return llm.SemanticResponse{}, lastErr
}

// opFailure records which gateway operation exhausted its retries before
// handing the classified error back to the runner.
func (s *Stage) opFailure(ctx context.Context, entryID, operation string, attempts int, err error) error {
	if _, mergeErr := s.store.MergeCaptureMetadata(ctx, entryID, map[string]any{
		"semantics": map[string]any{
			"failed_operation": operation,
			"attempts":         attempts,
		},
	}); mergeErr != nil {
		s.logger.Error("failed to record semantic attempt metadata",
			logging.Error(mergeErr),
			logging.String("entry_id", entryID),
		)
	}

	var gatewayErr *llm.GatewayError
	if errors.As(err, &gatewayErr) {
		stageErr := services.NewStageError(stageName, gatewayErr.Code,
			fmt.Sprintf("%s failed after %d attempts: %v", operation, attempts, gatewayErr.Err))
		stageErr.Retryable = gatewayErr.Retryable
		return stageErr
	}
	return err
}

// promptFor picks the enrichment mode from the text length: deep until the
// deep-char cap, preview beyond it.
func (s *Stage) promptFor(text string) (string, string) {
	runes := []rune(text)
	deepCap := s.cfg.MaxDeepChars
	if deepCap <= 0 {
		deepCap = 6000
	}
	if len(runes) <= deepCap {
		return "deep", text
	}
	return "preview", string(runes[:s.previewChars()])
}

func (s *Stage) previewChars() int {
	if s.cfg.MaxPreviewChars > 0 {
		return s.cfg.MaxPreviewChars
	}
	return 400
}

func fallbackSummary(prompt string, maxChars int) string {
	runes := []rune(strings.TrimSpace(prompt))
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return strings.TrimSpace(string(runes))
}

// fallbackTitle derives a display title from the first line of text, title
// cased for the entry's language.
func fallbackTitle(text, lang string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.TrimPrefix(line, "- ")
	runes := []rune(line)
	if len(runes) > maxTitleLength {
		runes = runes[:maxTitleLength]
		line = strings.TrimSpace(string(runes))
	}

	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return cases.Title(tag, cases.NoLower).String(line)
}

// normalizeTags lowercases, trims, caps, and de-duplicates model tags while
// keeping their order.
func normalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if runes := []rune(tag); len(runes) > maxTagLength {
			tag = string(runes[:maxTagLength])
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func taxonomyFrom(resp llm.SemanticResponse, model string) entry.Taxonomy {
	typeLabel := strings.TrimSpace(resp.TypeLabel)
	domainLabel := strings.TrimSpace(resp.DomainLabel)
	return entry.Taxonomy{
		TypeID:              slugify(typeLabel),
		TypeLabel:           typeLabel,
		DomainID:            slugify(domainLabel),
		DomainLabel:         domainLabel,
		ClassificationModel: firstNonEmpty(resp.ModelUsed, model),
	}
}

// slugify lowercases a label and squeezes runs of non-alphanumerics into
// single underscores.
func slugify(label string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

const summarySystemPrompt = `You summarize personal captured notes. Respond with a JSON object:
{"summary": "...", "display_title": "...", "tags": ["..."], "model_used": "...", "confidence": {"summary": 0.0}}
The summary is 1-3 sentences in the note's language. The display_title is a
short headline under 120 characters. Tags are 3-8 lowercase topic words.`

const classifySystemPrompt = `You classify personal captured notes. Respond with a JSON object:
{"type_label": "...", "domain_label": "...", "model_used": "...", "confidence": {"classification": 0.0}}
type_label is the kind of note (Task, Idea, Journal, Reference, Meeting).
domain_label is the life area (Work, Personal, Health, Finance, Learning).`

func languageHint(lang string) string {
	if lang == "" {
		return ""
	}
	return "The note is written in language code " + lang + "."
}
