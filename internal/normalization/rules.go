// Package normalization cleans raw stage text into canonical form and runs
// the normalization pipeline stage.
package normalization

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Profile selects which optional cleanup rules run. The base chain always
// runs in a fixed order; the toggles splice in the voice-specific rules.
type Profile struct {
	Name                  string
	RemoveTimestamps      bool
	CollapseSpeakerLabels bool
	SentenceCaseAllCaps   bool
}

// VoiceProfile cleans speech-to-text output: timestamp markers, speaker
// labels, and shouty all-caps transcripts.
var VoiceProfile = Profile{
	Name:                  "voice_transcript_v1",
	RemoveTimestamps:      true,
	CollapseSpeakerLabels: true,
	SentenceCaseAllCaps:   true,
}

// DocumentProfile cleans extracted document text with the base chain only.
var DocumentProfile = Profile{Name: "document_text_v1"}

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	timestampLine = regexp.MustCompile(`(?m)^\s*(?:\[\d{1,2}:\d{2}(?::\d{2})?\]|\(\d{1,2}:\d{2}\))\s*`)
	speakerLabel  = regexp.MustCompile(`(?mi)^speaker\s*(\d+):\s*`)
	runSpaces     = regexp.MustCompile(`[ \t]{2,}`)
	runNewlines   = regexp.MustCompile(`\n{3,}`)
	bulletLine    = regexp.MustCompile(`(?m)^[ \t]*[•·–—*][ \t]+`)
)

type rule struct {
	name  string
	apply func(string) string
}

func ruleChain(profile Profile) []rule {
	chain := []rule{
		{"nfc", norm.NFC.String},
		{"strip_controls", stripControls},
		{"normalize_newlines", normalizeNewlines},
		{"replace_quotes", replaceQuotes},
	}
	if profile.RemoveTimestamps {
		chain = append(chain,
			rule{"remove_timestamps", removeTimestamps},
			rule{"collapse_speaker_labels", collapseSpeakerLabels},
		)
	} else if profile.CollapseSpeakerLabels {
		chain = append(chain, rule{"collapse_speaker_labels", collapseSpeakerLabels})
	}
	chain = append(chain,
		rule{"collapse_whitespace", collapseWhitespace},
		rule{"normalize_lists", normalizeLists},
	)
	if profile.SentenceCaseAllCaps {
		chain = append(chain, rule{"sentence_case_all_caps", sentenceCaseAllCaps})
	}
	return chain
}

// Normalize runs the profile's rule chain and reports which rules were
// applied, in order.
func Normalize(text string, profile Profile) (string, []string) {
	applied := make([]string, 0, 8)
	for _, r := range ruleChain(profile) {
		text = r.apply(text)
		applied = append(applied, r.name)
	}
	return strings.TrimSpace(text), applied
}

func stripControls(text string) string {
	text = strings.ReplaceAll(text, "\uFEFF", "")
	return controlChars.ReplaceAllString(text, "")
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func replaceQuotes(text string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	return replacer.Replace(text)
}

func removeTimestamps(text string) string {
	return timestampLine.ReplaceAllString(text, "")
}

func collapseSpeakerLabels(text string) string {
	return speakerLabel.ReplaceAllString(text, "Speaker $1: ")
}

func collapseWhitespace(text string) string {
	text = runSpaces.ReplaceAllString(text, " ")
	return runNewlines.ReplaceAllString(text, "\n\n")
}

func normalizeLists(text string) string {
	return bulletLine.ReplaceAllString(text, "- ")
}

// sentenceCaseAllCaps rewrites text only when every letter in it is
// uppercase; mixed-case input passes through untouched.
func sentenceCaseAllCaps(text string) string {
	hasLetter := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return text
			}
		}
	}
	if !hasLetter {
		return text
	}
	return capitalizeSentences(strings.ToLower(text))
}

func capitalizeSentences(text string) string {
	runes := []rune(text)
	capitalizeNext := true
	for i, r := range runes {
		if capitalizeNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capitalizeNext = false
			continue
		}
		switch r {
		case '.', '!', '?', '\n':
			capitalizeNext = true
		}
	}
	return string(runes)
}

// Segment is one paragraph or list block of normalized text.
type Segment struct {
	Index     int
	Text      string
	CharCount int
	Type      string
}

// SplitSegments breaks normalized text on blank lines. Blocks opening with
// a list marker are typed "list", everything else "paragraph".
func SplitSegments(text string) []Segment {
	blocks := strings.Split(text, "\n\n")
	segments := make([]Segment, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		segType := "paragraph"
		if strings.HasPrefix(block, "- ") {
			segType = "list"
		}
		segments = append(segments, Segment{
			Index:     len(segments),
			Text:      block,
			CharCount: len([]rune(block)),
			Type:      segType,
		})
	}
	return segments
}
