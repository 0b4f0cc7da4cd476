package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config file at path, applies environment-variable
// overrides, then fills in defaults. Env overrides follow the teacher's
// internal/config/loader.go convention: a handful of well-known vars win
// over whatever the file says, so deployments can keep secrets out of YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.applyDefaults()

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEXUS_DATABASE_URL"); v != "" {
		cfg.Database.ConnectionString = v
	}
	if v := os.Getenv("NEXUS_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NEXUS_COMPLETIONS_API_KEY"); v != "" {
		cfg.Completions.APIKey = v
	}
	if v := os.Getenv("NEXUS_EMBEDDINGS_API_KEY"); v != "" {
		cfg.Embeddings.APIKey = v
	}
	if v := os.Getenv("NEXUS_MODE"); v != "" {
		cfg.Mode = OrchestratorMode(strings.TrimSpace(v))
	}
	if v := os.Getenv("MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.React.MaxSteps = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NEXUS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
}
