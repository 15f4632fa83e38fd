// Package fingerprint computes stable capture fingerprints and decides
// whether a fingerprinted source should be ingested again.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Algorithm labels recorded next to each fingerprint so stored values stay
// interpretable if the strategy ever changes.
const (
	FileAlgorithm = "sha256(name|size|mtime_ns)"
	TextAlgorithm = "sha256(text)"
)

// ComputeFile fingerprints a watched file from its name, size, and mtime.
// The contents are deliberately not read: capture must stay cheap even for
// large recordings, and a rewritten file changes its mtime anyway.
func ComputeFile(path string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("stat %s: %w", path, err)
	}
	payload := fmt.Sprintf("%s:%d:%d", filepath.Base(path), info.Size(), info.ModTime().UnixNano())
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:]), FileAlgorithm, nil
}

// ComputeText fingerprints manually captured text. Leading and trailing
// whitespace is ignored so copy-paste artifacts do not defeat dedup.
func ComputeText(text string) (string, string) {
	digest := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(digest[:]), TextAlgorithm
}
