package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Store selects and configures the entry store backend.
type Store struct {
	// Backend is "sqlite" or "memory".
	Backend string `toml:"backend"`
	// SQLitePath overrides the database location. Defaults to
	// <data_dir>/curio.db.
	SQLitePath string `toml:"sqlite_path"`
}

// WatchRoot describes one watch-folder capture root.
type WatchRoot struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
	// Lane is "audio" or "document". Empty means inferred from the name:
	// roots whose name contains "audio" or "voice" take the audio lane.
	Lane string `toml:"lane"`
}

// Ingest contains capture configuration.
type Ingest struct {
	WatchRoots []WatchRoot `toml:"watch_roots"`
	// PollInterval is the watch-folder scan interval in seconds.
	PollInterval int `toml:"poll_interval"`
	// MinFreeSpaceGiB is the preflight free-space floor for the data dir.
	MinFreeSpaceGiB int `toml:"min_free_space_gib"`
}

// Transcription contains audio transcription settings.
type Transcription struct {
	// Command is the external speech-to-text binary. It must accept
	// --model and --language flags and print a JSON result on stdout.
	Command  string `toml:"command"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// Extraction contains document extraction settings.
type Extraction struct {
	// MaxBytes caps the size of documents read from the processing dir.
	MaxBytes int64 `toml:"max_bytes"`
}

// Normalization contains text normalization settings.
type Normalization struct {
	MaxChars     int  `toml:"max_chars"`
	EmitSegments bool `toml:"emit_segments"`
}

// Semantic contains semantic enrichment settings.
type Semantic struct {
	Enabled          bool   `toml:"enabled"`
	APIKey           string `toml:"api_key"`
	BaseURL          string `toml:"base_url"`
	Model            string `toml:"model"`
	Referer          string `toml:"referer"`
	Title            string `toml:"title"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MaxRetryAttempts int    `toml:"max_retry_attempts"`
	RetryBackoffMs   int    `toml:"retry_backoff_ms"`
	MaxPreviewChars  int    `toml:"max_preview_chars"`
	MaxDeepChars     int    `toml:"max_deep_chars"`
}

// Workflow contains daemon timing and queue configuration.
type Workflow struct {
	// QueuePollInterval is the job dispatch poll interval in seconds.
	QueuePollInterval int `toml:"queue_poll_interval"`
	// QueueLeaseSeconds is the visibility window for claimed jobs.
	QueueLeaseSeconds int `toml:"queue_lease_seconds"`
	// QueueMaxAttempts dead-letters jobs delivered this many times.
	QueueMaxAttempts int `toml:"queue_max_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Captured       bool   `toml:"captured"`
	Processed      bool   `toml:"processed"`
	Errors         bool   `toml:"errors"`
}

// Config encapsulates all configuration values for curio.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Ingest        Ingest        `toml:"ingest"`
	Transcription Transcription `toml:"transcription"`
	Extraction    Extraction    `toml:"extraction"`
	Normalization Normalization `toml:"normalization"`
	Semantic      Semantic      `toml:"semantic"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curio/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("curio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	if strings.TrimSpace(c.Store.SQLitePath) != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Paths.DataDir, "curio.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "curiod.lock")
}

// EnsureDirectories creates required directories for daemon operation,
// including the per-root watch-folder layout.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, root := range c.Ingest.WatchRoots {
		for _, sub := range []string{"incoming", "processing", "processed", "failed"} {
			if err := os.MkdirAll(filepath.Join(root.Path, sub), 0o755); err != nil {
				return fmt.Errorf("create watch directory %q: %w", filepath.Join(root.Path, sub), err)
			}
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SemanticGateway reports whether an external semantic gateway is configured.
func (c *Config) SemanticGateway() bool {
	return c.Semantic.Enabled && strings.TrimSpace(c.Semantic.APIKey) != ""
}
