// Package config defines the gateway's configuration shape and loads it from
// a YAML file with environment-variable overrides, grounded on the teacher's
// internal/config/loader.go.
package config

// DatabaseConfig configures the durable conversation/message store.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// RedisConfig configures the optional shared model-catalog cache. When URL
// is empty the registry falls back to an in-process cache.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CompletionsConfig configures the chat completions endpoint the LLM
// summarizer calls; with no DefaultHost the stub summarizer is used.
type CompletionsConfig struct {
	DefaultHost      string `yaml:"default_host"`
	CompletionsModel string `yaml:"completions_model"`
	APIKey           string `yaml:"api_key"`
}

// EmbeddingsConfig configures the embeddings endpoint used by vector search.
type EmbeddingsConfig struct {
	Host         string `yaml:"host"`
	APIKey       string `yaml:"api_key"`
	Dimensions   int    `yaml:"dimensions"`
	EmbedPrefix  string `yaml:"embed_prefix"`
	SearchPrefix string `yaml:"search_prefix"`
}

// OrchestratorMode selects which chat orchestrator handles /v1/chat/completions.
type OrchestratorMode string

const (
	ModeNormal OrchestratorMode = "normal"
	ModeReAct  OrchestratorMode = "react"
)

// ReactConfig bounds the ReAct reasoning loop (spec §9 open question).
type ReactConfig struct {
	MaxSteps int `yaml:"max_steps"`
}

// MemoryConfig drives the working-window / summarization behavior (§4.C).
type MemoryConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MaxContextTokens     int     `yaml:"max_context_tokens"`
	MaxWorkingMessages    int     `yaml:"max_working_messages"`
	AutoSummarize        bool    `yaml:"auto_summarize"`
	SummarizeThreshold   int     `yaml:"summarize_threshold"`
	SummaryTriggerRatio  float64 `yaml:"summary_trigger_ratio"`
	KeepRecentMessages   int     `yaml:"keep_recent_messages"`
}

// RetrievalConfig holds defaults for the hybrid retrieval engine (§4.D).
type RetrievalConfig struct {
	DefaultLimit         int     `yaml:"default_limit"`
	DefaultScoreThreshold float64 `yaml:"default_score_threshold"`
	DefaultWeightedAlpha float64 `yaml:"default_weighted_alpha"`
	DefaultContextWindow int     `yaml:"default_context_window"`
	// MergePolicy ("system-message" | "last-user-message") is loaded and
	// defaulted but not read: the orchestrator always merges retrieved
	// context as a system message.
	MergePolicy          string  `yaml:"merge_policy"`
}

// ToolServerConfig describes one named external MCP tool server (§4.B).
type ToolServerConfig struct {
	Name            string            `yaml:"name"`
	Command         string            `yaml:"command,omitempty"`
	Args            []string          `yaml:"args,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	URL             string            `yaml:"url,omitempty"`
	BearerToken     string            `yaml:"bearer_token,omitempty"`
	Role            string            `yaml:"role,omitempty"` // "search" | "generic"
	FallbackMessage string            `yaml:"fallback_message,omitempty"`
}

// LoggingConfig configures the observability package.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// Config is the gateway's complete runtime configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Mode OrchestratorMode `yaml:"mode"`

	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Completions CompletionsConfig `yaml:"completions"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Memory      MemoryConfig      `yaml:"memory"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	React       ReactConfig       `yaml:"react"`
	Logging     LoggingConfig     `yaml:"logging"`
	ToolServers []ToolServerConfig `yaml:"tool_servers"`
}

// applyDefaults fills in zero-valued fields with the gateway's defaults,
// mirroring the teacher's internal/config/loader.go default-application pass.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Mode == "" {
		c.Mode = ModeNormal
	}
	if c.React.MaxSteps == 0 {
		c.React.MaxSteps = 8
	}
	if c.Memory.MaxContextTokens == 0 {
		c.Memory.MaxContextTokens = 8192
	}
	if c.Memory.MaxWorkingMessages == 0 {
		c.Memory.MaxWorkingMessages = 50
	}
	if c.Memory.SummarizeThreshold == 0 {
		c.Memory.SummarizeThreshold = c.Memory.MaxWorkingMessages
	}
	if c.Memory.SummaryTriggerRatio == 0 {
		c.Memory.SummaryTriggerRatio = 0.8
	}
	if c.Memory.KeepRecentMessages == 0 {
		c.Memory.KeepRecentMessages = c.Memory.SummarizeThreshold / 2
	}
	if c.Retrieval.DefaultLimit == 0 {
		c.Retrieval.DefaultLimit = 10
	}
	if c.Retrieval.DefaultWeightedAlpha == 0 {
		c.Retrieval.DefaultWeightedAlpha = 0.5
	}
	if c.Retrieval.DefaultContextWindow == 0 {
		c.Retrieval.DefaultContextWindow = 3
	}
	if c.Retrieval.MergePolicy == "" {
		c.Retrieval.MergePolicy = "system-message"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
