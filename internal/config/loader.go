package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".duckmem"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// embeddingDimensions lists the embedding models the store can hold vectors for.
var embeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
	"text-embedding-3-large": 3072,
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("DUCKMEM_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("DUCKMEM_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > env files > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/duckmem/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	if _, err := os.Stat(path); err == nil {
		doc, err := readLayered(path)
		if err != nil {
			return nil, err
		}
		if err := decode(doc, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group
	groups := []struct {
		prefix string
		spec   any
	}{
		{"DUCKMEM_PATHS", &cfg.Paths},
		{"DUCKMEM_MODEL", &cfg.Model},
		{"DUCKMEM_OPENAI", &cfg.Providers.OpenAI},
		{"DUCKMEM_WORKER", &cfg.Worker},
		{"DUCKMEM_HYGIENE", &cfg.Hygiene},
		{"DUCKMEM_USERS", &cfg.Users},
		{"DUCKMEM_INBOUND", &cfg.Inbound},
		{"DUCKMEM_EMBEDDING", &cfg.Embedding},
		{"DUCKMEM_METRICS", &cfg.Metrics},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return nil, fmt.Errorf("environment %s: %w", g.prefix, err)
		}
	}

	// Fallback for API Key
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	expandHome(&cfg.Paths.Database)
	expandHome(&cfg.Paths.LockFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the memory core cannot run with.
func (c *Config) Validate() error {
	dim, ok := embeddingDimensions[c.Model.EmbeddingModel]
	if !ok {
		return fmt.Errorf("unknown embedding model %q", c.Model.EmbeddingModel)
	}
	if c.Model.EmbeddingDimension != dim {
		return fmt.Errorf("embedding model %s produces %d dimensions, configured %d",
			c.Model.EmbeddingModel, dim, c.Model.EmbeddingDimension)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch size must be positive")
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker interval must be positive")
	}
	if c.Users.PrimaryUser == "" {
		return fmt.Errorf("primary user must be set")
	}
	return nil
}

func expandHome(p *string) {
	if strings.HasPrefix(*p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			*p = filepath.Join(home, (*p)[1:])
		}
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// decode applies a merged config document onto cfg. Keys absent from doc
// keep their current values.
func decode(doc map[string]any, cfg *Config) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}
