package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the application configuration. It is constructed once in main
// and passed into each component.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Autonomy AutonomyConfig `mapstructure:"autonomy"`
	Web      WebConfig      `mapstructure:"web"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Lexicon  LexiconConfig  `mapstructure:"lexicon"`
	Ordering OrderingConfig `mapstructure:"ordering"`
	LogLevel string         `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LLMConfig holds language-model provider settings
type LLMConfig struct {
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AutonomyConfig holds the pipeline thresholds. The confidence values are
// hand-tuned against real documents; changing them changes promotion
// behavior.
type AutonomyConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	Mode                    string        `mapstructure:"mode"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	CycleInterval           time.Duration `mapstructure:"cycle_interval"`
	AlertCooldown           time.Duration `mapstructure:"alert_cooldown"`
	Alerts                  bool          `mapstructure:"alerts"`
	IngestCompletionMessage bool          `mapstructure:"ingest_completion_message"`
	AutoPromoteThreshold    float64       `mapstructure:"auto_promote_threshold"`
	EnrichMinConfidence     float64       `mapstructure:"enrich_min_confidence"`
	EnrichAttemptBandMax    float64       `mapstructure:"enrich_attempt_band_max"`
	DraftScanLimit          int           `mapstructure:"draft_scan_limit"`
	MaxSourceChunksPerDraft int           `mapstructure:"max_source_chunks_per_draft"`
	MinSourceCharsForDraft  int           `mapstructure:"min_source_chars_for_draft"`
	JobBatchSize            int           `mapstructure:"job_batch_size"`
	DocumentsDir            string        `mapstructure:"documents_dir"`
	LockPath                string        `mapstructure:"lock_path"`
}

// WebConfig holds optional price research settings
type WebConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	RateLimitRPS    float64  `mapstructure:"rate_limit_rps"`
	MaxPagesPerTask int      `mapstructure:"max_pages_per_task"`
	AllowedDomains  []string `mapstructure:"allowed_domains"`
}

// TelegramConfig holds alert delivery settings
type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	AllowedUserIDs []int64 `mapstructure:"allowed_user_ids"`
}

// LexiconConfig points at the kitchen-shorthand alias file
type LexiconConfig struct {
	Path string `mapstructure:"path"`
}

// OrderingConfig holds vendor cutoff reminder settings
type OrderingConfig struct {
	ReminderOffsetsMinutes []int  `mapstructure:"reminder_offsets_minutes"`
	QuietHoursStart        string `mapstructure:"quiet_hours_start"`
	QuietHoursEnd          string `mapstructure:"quiet_hours_end"`
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	setDefaults()

	viper.SetEnvPrefix("PREPBRAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.BindEnv("llm.api_key", "OPENAI_API_KEY")
	viper.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	viper.BindEnv("log_level", "LOG_LEVEL")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyModeDefaults()
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("database.path", "data/prepbrain.db")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("autonomy.enabled", true)
	viper.SetDefault("autonomy.mode", "balanced")
	viper.SetDefault("autonomy.poll_interval", 5*time.Minute)
	viper.SetDefault("autonomy.alert_cooldown", 180*time.Minute)
	viper.SetDefault("autonomy.alerts", false)
	viper.SetDefault("autonomy.ingest_completion_message", false)
	viper.SetDefault("autonomy.draft_scan_limit", 10)
	viper.SetDefault("autonomy.max_source_chunks_per_draft", 12)
	viper.SetDefault("autonomy.min_source_chars_for_draft", 300)
	viper.SetDefault("autonomy.job_batch_size", 2)
	viper.SetDefault("autonomy.documents_dir", "data/documents")
	viper.SetDefault("autonomy.lock_path", "run/autonomy.singleton.lock")
	viper.SetDefault("web.enabled", false)
	viper.SetDefault("web.rate_limit_rps", 0.5)
	viper.SetDefault("web.max_pages_per_task", 3)
	viper.SetDefault("lexicon.path", "config/lexicon.yaml")
	viper.SetDefault("ordering.reminder_offsets_minutes", []int{60, 15})
	viper.SetDefault("log_level", "info")
}

// applyModeDefaults fills threshold fields left unset, using the balanced or
// strict preset. The band ceiling always sits just under the promote
// threshold so an enrich attempt can never pre-clear promotion.
func (c *Config) applyModeDefaults() {
	mode := strings.ToLower(strings.TrimSpace(c.Autonomy.Mode))
	if mode == "" {
		mode = "balanced"
	}
	c.Autonomy.Mode = mode

	if c.Autonomy.AutoPromoteThreshold == 0 {
		if mode == "balanced" {
			c.Autonomy.AutoPromoteThreshold = 0.75
		} else {
			c.Autonomy.AutoPromoteThreshold = 0.85
		}
	}
	if c.Autonomy.EnrichMinConfidence == 0 {
		if mode == "balanced" {
			c.Autonomy.EnrichMinConfidence = 0.60
		} else {
			c.Autonomy.EnrichMinConfidence = 0.65
		}
	}
	if c.Autonomy.EnrichAttemptBandMax == 0 {
		c.Autonomy.EnrichAttemptBandMax = c.Autonomy.AutoPromoteThreshold - 0.01
	}
	if c.Autonomy.CycleInterval == 0 {
		if mode == "balanced" {
			c.Autonomy.CycleInterval = 45 * time.Minute
		} else {
			c.Autonomy.CycleInterval = 30 * time.Minute
		}
	}
}
