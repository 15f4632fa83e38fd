// Package transcription turns captured audio into verbatim text via an
// external speech-to-text tool and runs the transcription pipeline stage.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"curio/internal/config"
	"curio/internal/services"
)

// Segment is one timed span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the output of a transcription run.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, sourcePath string) (Result, error)
}

// CommandTranscriber shells out to a speech-to-text binary that prints a
// JSON Result on stdout.
type CommandTranscriber struct {
	Binary   string
	Model    string
	Language string
}

// NewCommandTranscriber builds a transcriber from configuration.
func NewCommandTranscriber(cfg config.Transcription) *CommandTranscriber {
	binary := strings.TrimSpace(cfg.Command)
	if binary == "" {
		binary = "whisper-cli"
	}
	return &CommandTranscriber{Binary: binary, Model: cfg.Model, Language: cfg.Language}
}

// Transcribe runs the external tool against sourcePath.
func (t *CommandTranscriber) Transcribe(ctx context.Context, sourcePath string) (Result, error) {
	args := []string{"--output-format", "json"}
	if t.Model != "" {
		args = append(args, "--model", t.Model)
	}
	if t.Language != "" {
		args = append(args, "--language", t.Language)
	}
	args = append(args, sourcePath)

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "transcription", "transcribe",
			fmt.Sprintf("%s failed: %s", t.Binary, detail), err)
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "transcription", "transcribe",
			"tool produced malformed JSON", err)
	}
	result.Text = strings.TrimSpace(result.Text)
	return result, nil
}
