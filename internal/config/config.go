// Package config loads the service's configuration from the environment
// using viper, per SPEC_FULL.md's AMBIENT STACK (the teacher declared
// spf13/viper in go.mod but read configuration via flag+os.Getenv
// instead; this repo wires it in for real).
package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Config is the fully-resolved, immutable-after-init configuration for
// the decision service. Per SPEC_FULL.md §5, config is the one piece of
// process-global state alongside the bandit registry, and it never
// mutates after Load returns.
type Config struct {
	Server types.ServerConfig
	Bandit types.BanditConfig
	LLM    types.LLMConfig
	News   types.NewsConfig
	Policy types.PolicyParams

	DatabaseURL string
	LogLevel    string
}

// Load reads configuration from the environment (and an optional config
// file, if present on disk) using viper's standard precedence: SetDefault
// values < config file < environment variables. The keys cover every
// entry of spec.md §6's "Configuration keys (environment-like)" list,
// plus server, storage and logging settings.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/decision-service")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	setDefaults(v)

	cfg := &Config{
		Server: types.ServerConfig{
			Host:           v.GetString("server_host"),
			Port:           v.GetInt("server_port"),
			WebSocketPath:  v.GetString("server_ws_path"),
			ReadTimeout:    v.GetDuration("server_read_timeout"),
			WriteTimeout:   v.GetDuration("server_write_timeout"),
			MaxConnections: v.GetInt("server_max_connections"),
			EnableMetrics:  v.GetBool("server_enable_metrics"),
			MetricsPort:    v.GetInt("metrics_port"),
		},
		Bandit: types.BanditConfig{
			ContextDim:     v.GetInt("bandit_context_dim"),
			Lambda:         v.GetFloat64("bandit_lambda"),
			ExplorationNu:  v.GetFloat64("bandit_exploration_nu"),
			SnapshotDir:    v.GetString("bandit_snapshot_dir"),
			SnapshotEveryN: v.GetInt("bandit_snapshot_every_n"),
			SnapshotEvery:  v.GetDuration("bandit_snapshot_every"),
			RandomSeed:     v.GetInt64("bandit_random_seed"),
		},
		LLM: types.LLMConfig{
			Model:             v.GetString("llm_model"),
			PromptVersion:     v.GetString("llm_prompt_version"),
			SchemaVersion:     v.GetString("llm_schema_version"),
			ValidatorVersion:  v.GetString("llm_validator_version"),
			MaxRetries:        v.GetInt("llm_max_retries"),
			CallTimeout:       v.GetDuration("llm_timeout_s"),
			ProposeBudget:     v.GetDuration("propose_budget"),
			Debug:             v.GetBool("llm_debug"),
			ArtifactDir:       v.GetString("llm_artifact_dir"),
			SuccessSampleRate: v.GetFloat64("llm_success_sample_rate"),
		},
		News: types.NewsConfig{
			MaxItems: v.GetInt("news_max_items"),
		},
		Policy: types.PolicyParams{
			MaxTicket:       decimal.NewFromFloat(v.GetFloat64("max_ticket")),
			MaxPositions:    v.GetInt("max_positions"),
			MaxPerTradeLoss: decimal.NewFromFloat(v.GetFloat64("max_per_trade_loss")),
			DailyKillSwitch: decimal.NewFromFloat(v.GetFloat64("daily_kill_switch")),
			SpreadCentsMax:  v.GetFloat64("spread_cents_max"),
			SpreadBpsMax:    v.GetFloat64("spread_bps_max"),
			SlippageBps:     v.GetFloat64("slippage_bps"),
			PctADVCap:       v.GetFloat64("pct_adv_cap"),
			MinDollarADV:    v.GetFloat64("min_dollar_adv"),
		},
		DatabaseURL: v.GetString("database_url"),
		LogLevel:    v.GetString("log_level"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_ws_path", "/ws")
	v.SetDefault("server_read_timeout", 10*time.Second)
	v.SetDefault("server_write_timeout", 10*time.Second)
	v.SetDefault("server_max_connections", 1000)
	v.SetDefault("server_enable_metrics", true)
	v.SetDefault("metrics_port", 9090)

	v.SetDefault("bandit_context_dim", 7)
	v.SetDefault("bandit_lambda", 1.0)
	v.SetDefault("bandit_exploration_nu", 1.0)
	v.SetDefault("bandit_snapshot_dir", "./data/bandit")
	v.SetDefault("bandit_snapshot_every_n", 10)
	v.SetDefault("bandit_snapshot_every", 30*time.Second)
	v.SetDefault("bandit_random_seed", 1)

	v.SetDefault("llm_model", "gpt-4o")
	v.SetDefault("llm_prompt_version", "v1")
	v.SetDefault("llm_schema_version", "ProposeResponseV1")
	v.SetDefault("llm_validator_version", "v1")
	v.SetDefault("llm_max_retries", 2)
	v.SetDefault("llm_timeout_s", 12*time.Second)
	v.SetDefault("propose_budget", 15*time.Second)
	v.SetDefault("llm_debug", false)
	v.SetDefault("llm_artifact_dir", "./data/llm-artifacts")
	v.SetDefault("llm_success_sample_rate", 0.08)

	v.SetDefault("news_max_items", 5)

	v.SetDefault("max_ticket", 500.0)
	v.SetDefault("max_positions", 10)
	v.SetDefault("max_per_trade_loss", 25.0)
	v.SetDefault("daily_kill_switch", -75.0)
	v.SetDefault("spread_cents_max", 0.05)
	v.SetDefault("spread_bps_max", 50.0)
	v.SetDefault("slippage_bps", 10.0)
	v.SetDefault("pct_adv_cap", 0.05)
	v.SetDefault("min_dollar_adv", 1_000_000.0)

	v.SetDefault("database_url", "postgres://localhost:5432/decisions?sslmode=disable")
	v.SetDefault("log_level", "info")
}
