package testsupport

import (
	"path/filepath"
	"testing"

	"curio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Ingest.WatchRoots = []config.WatchRoot{
		{Name: "voice", Path: filepath.Join(base, "watch", "voice"), Lane: "audio"},
		{Name: "documents", Path: filepath.Join(base, "watch", "documents"), Lane: "document"},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithStoreBackend selects the entry store backend on the test config.
func WithStoreBackend(backend string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Store.Backend = backend
	}
}

// WithSemanticGateway enables semantic enrichment against the given base URL.
func WithSemanticGateway(baseURL, apiKey string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Semantic.Enabled = true
		cfg.Semantic.BaseURL = baseURL
		cfg.Semantic.APIKey = apiKey
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
