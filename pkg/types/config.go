// Package types provides configuration types for the decision service.
package types

import "time"

// ServerConfig is the HTTP/WS transport configuration, same shape the
// teacher's ServerConfig carried.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// BanditConfig is the configuration for the contextual bandit.
type BanditConfig struct {
	ContextDim      int     `json:"context_dim"`
	Lambda          float64 `json:"lambda"`
	ExplorationNu   float64 `json:"exploration_nu"`
	SnapshotDir     string  `json:"snapshot_dir"`
	SnapshotEveryN  int     `json:"snapshot_every_n"`
	SnapshotEvery   time.Duration `json:"snapshot_every"`
	RandomSeed      int64   `json:"random_seed"`
}

// LLMConfig is the configuration for the LLM advisor.
type LLMConfig struct {
	Model          string        `json:"model"`
	PromptVersion  string        `json:"prompt_version"`
	SchemaVersion  string        `json:"schema_version"`
	ValidatorVersion string      `json:"validator_version"`
	MaxRetries     int           `json:"max_retries"`
	CallTimeout    time.Duration `json:"call_timeout"`
	ProposeBudget  time.Duration `json:"propose_budget"`
	Debug          bool          `json:"debug"`
	ArtifactDir    string        `json:"artifact_dir"`
	SuccessSampleRate float64    `json:"success_sample_rate"`
}

// NewsConfig bounds how many news items the synthesizer surfaces.
type NewsConfig struct {
	MaxItems int `json:"max_items"`
}
