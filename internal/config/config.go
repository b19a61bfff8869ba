// Package config provides configuration types and loading for duckmem.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Providers, Worker, Hygiene, Users, Inbound, Embedding, Metrics.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Worker    WorkerConfig    `json:"worker"`
	Hygiene   HygieneConfig   `json:"hygiene"`
	Users     UsersConfig     `json:"users"`
	Inbound   InboundConfig   `json:"inbound"`
	Embedding EmbeddingConfig `json:"embedding"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Database string `json:"database" envconfig:"DATABASE"`
	LockFile string `json:"lockFile" envconfig:"LOCK_FILE"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups chat and embedding model settings.
type ModelConfig struct {
	Name                string  `json:"name" envconfig:"MODEL"`
	SMSModel            string  `json:"smsModel" envconfig:"SMS_MODEL"`
	EmbeddingModel      string  `json:"embeddingModel" envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimension  int     `json:"embeddingDimension" envconfig:"EMBEDDING_DIMENSION"`
	ExtractionMaxTokens int     `json:"extractionMaxTokens" envconfig:"EXTRACTION_MAX_TOKENS"`
	Temperature         float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// ---------------------------------------------------------------------------
// Providers – API endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

// ProviderConfig contains API credentials for an OpenAI-compatible endpoint.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Worker – background extraction loop
// ---------------------------------------------------------------------------

// WorkerConfig controls the extraction worker loop.
type WorkerConfig struct {
	Interval     time.Duration `json:"interval" envconfig:"INTERVAL"`
	BatchSize    int           `json:"batchSize" envconfig:"BATCH_SIZE"`
	MaxBackoff   time.Duration `json:"maxBackoff" envconfig:"MAX_BACKOFF"`
	StatsEvery   time.Duration `json:"statsEvery" envconfig:"STATS_EVERY"`
	SummaryEvery time.Duration `json:"summaryEvery" envconfig:"SUMMARY_EVERY"`
	SessionIdle  time.Duration `json:"sessionIdle" envconfig:"SESSION_IDLE"`

	// ExtractionTimeout bounds one extractor call including retries.
	ExtractionTimeout time.Duration `json:"extractionTimeout" envconfig:"EXTRACTION_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Hygiene – nightly maintenance
// ---------------------------------------------------------------------------

// HygieneConfig controls the nightly maintenance pass.
type HygieneConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	Schedule string `json:"schedule" envconfig:"SCHEDULE"` // cron spec with seconds field

	// DecayAfterDays is the last-access age after which weak memories decay.
	DecayAfterDays          int     `json:"decayAfterDays" envconfig:"DECAY_AFTER_DAYS"`
	DecayFactor             float64 `json:"decayFactor" envconfig:"DECAY_FACTOR"`
	MessageRetentionDays    int     `json:"messageRetentionDays" envconfig:"MESSAGE_RETENTION_DAYS"`
	ContradictionRetainDays int     `json:"contradictionRetainDays" envconfig:"CONTRADICTION_RETAIN_DAYS"`
	ConsolidateAfterDays    int     `json:"consolidateAfterDays" envconfig:"CONSOLIDATE_AFTER_DAYS"`
	Consolidate             bool    `json:"consolidate" envconfig:"CONSOLIDATE"`
	Vacuum                  bool    `json:"vacuum" envconfig:"VACUUM"`
}

// ---------------------------------------------------------------------------
// Users – speaker tracking
// ---------------------------------------------------------------------------

// UsersConfig controls the user manager.
type UsersConfig struct {
	PrimaryUser   string        `json:"primaryUser" envconfig:"PRIMARY_USER"`
	RevertTimeout time.Duration `json:"revertTimeout" envconfig:"REVERT_TIMEOUT"`
	CacheTTL      time.Duration `json:"cacheTTL" envconfig:"CACHE_TTL"`
}

// ---------------------------------------------------------------------------
// Inbound – Kafka ingestion
// ---------------------------------------------------------------------------

// InboundConfig configures the Kafka consumer for SMS and image records.
type InboundConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	GroupID string   `json:"groupId" envconfig:"GROUP_ID"`
	Topics  []string `json:"topics" envconfig:"TOPICS"`
}

// ---------------------------------------------------------------------------
// Embedding – client behaviour
// ---------------------------------------------------------------------------

// EmbeddingConfig controls the embedding client.
type EmbeddingConfig struct {
	CacheTTL     time.Duration `json:"cacheTTL" envconfig:"CACHE_TTL"`
	Concurrency  int           `json:"concurrency" envconfig:"CONCURRENCY"`
	RatePerSec   float64       `json:"ratePerSec" envconfig:"RATE_PER_SEC"`
	Timeout      time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	Retries      int           `json:"retries" envconfig:"RETRIES"`
	BatchMaxSize int           `json:"batchMaxSize" envconfig:"BATCH_MAX_SIZE"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// MetricsConfig configures the optional Prometheus endpoint of the daemon.
type MetricsConfig struct {
	Listen string `json:"listen" envconfig:"LISTEN"` // empty disables
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Database: "~/.duckmem/duck_memory.db",
			LockFile: "~/.duckmem/hygiene.lock",
		},
		Model: ModelConfig{
			Name:                "gpt-4o-mini",
			SMSModel:            "gpt-4o-mini",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimension:  1536,
			ExtractionMaxTokens: 1500,
			Temperature:         0.3,
		},
		Worker: WorkerConfig{
			Interval:          5 * time.Second,
			BatchSize:         5,
			MaxBackoff:        300 * time.Second,
			StatsEvery:        300 * time.Second,
			SummaryEvery:      600 * time.Second,
			SessionIdle:       30 * time.Minute,
			ExtractionTimeout: 30 * time.Second,
		},
		Hygiene: HygieneConfig{
			Enabled:                 true,
			Schedule:                "0 0 3 * * *",
			DecayAfterDays:          30,
			DecayFactor:             0.9,
			MessageRetentionDays:    90,
			ContradictionRetainDays: 30,
			ConsolidateAfterDays:    14,
			Consolidate:             true,
			Vacuum:                  true,
		},
		Users: UsersConfig{
			PrimaryUser:   "Osmund",
			RevertTimeout: 30 * time.Minute,
			CacheTTL:      5 * time.Second,
		},
		Inbound: InboundConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "duckmem",
			Topics:  []string{"duck.inbound.sms", "duck.inbound.images"},
		},
		Embedding: EmbeddingConfig{
			CacheTTL:     10 * time.Minute,
			Concurrency:  2,
			RatePerSec:   5,
			Timeout:      10 * time.Second,
			Retries:      2,
			BatchMaxSize: 64,
		},
	}
}
