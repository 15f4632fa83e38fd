package config

const (
	defaultDataDir              = "~/.local/share/curio"
	defaultLogDir               = "~/.local/share/curio/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultStoreBackend         = "sqlite"
	defaultPollIntervalSeconds  = 5
	defaultQueuePollSeconds     = 2
	defaultQueueLeaseSeconds    = 60
	defaultQueueMaxAttempts     = 3
	defaultSemanticBaseURL      = "https://openrouter.ai/api/v1/chat/completions"
	defaultSemanticModel        = "google/gemini-3-flash-preview"
	defaultSemanticReferer      = "https://github.com/curio-pipeline/curio"
	defaultSemanticTitle        = "Curio Semantic Enrichment"
	defaultSemanticTimeoutSec   = 60
	defaultSemanticMaxAttempts  = 2
	defaultSemanticBackoffMs    = 250
	defaultSemanticPreviewChars = 400
	defaultSemanticDeepChars    = 6000
	defaultNormalizationMax     = 200000
	defaultNotifyTimeout        = 10
	defaultMinFreeSpaceGiB      = 1
	defaultTranscribeCommand    = "whisper-cli"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Backend: defaultStoreBackend,
		},
		Ingest: Ingest{
			PollInterval:    defaultPollIntervalSeconds,
			MinFreeSpaceGiB: defaultMinFreeSpaceGiB,
		},
		Transcription: Transcription{
			Command:  defaultTranscribeCommand,
			Model:    "base",
			Language: "en",
		},
		Extraction: Extraction{
			MaxBytes: 10 << 20,
		},
		Normalization: Normalization{
			MaxChars:     defaultNormalizationMax,
			EmitSegments: true,
		},
		Semantic: Semantic{
			Enabled:          true,
			BaseURL:          defaultSemanticBaseURL,
			Model:            defaultSemanticModel,
			Referer:          defaultSemanticReferer,
			Title:            defaultSemanticTitle,
			TimeoutSeconds:   defaultSemanticTimeoutSec,
			MaxRetryAttempts: defaultSemanticMaxAttempts,
			RetryBackoffMs:   defaultSemanticBackoffMs,
			MaxPreviewChars:  defaultSemanticPreviewChars,
			MaxDeepChars:     defaultSemanticDeepChars,
		},
		Workflow: Workflow{
			QueuePollInterval: defaultQueuePollSeconds,
			QueueLeaseSeconds: defaultQueueLeaseSeconds,
			QueueMaxAttempts:  defaultQueueMaxAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Captured:       true,
			Processed:      true,
			Errors:         true,
		},
	}
}
