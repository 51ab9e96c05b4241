// Package config resolves the worklog configuration from its TOML file,
// environment variables, and built-in defaults (env > file > defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Known Anthropic models for the summarizer.
const (
	ModelHaiku  = "claude-haiku-4-5-20251001"
	ModelSonnet = "claude-sonnet-4-5-20250929"
)

// SlackConfig holds chat-platform credentials and client tuning.
type SlackConfig struct {
	UserToken   string `mapstructure:"user_token"`
	RateLimit   int    `mapstructure:"rate_limit"`
	Concurrency int    `mapstructure:"concurrency"`
}

// AnthropicConfig holds LLM credentials and tuning. One of APIKey or
// OAuthToken is required.
type AnthropicConfig struct {
	APIKey      string `mapstructure:"api_key"`
	OAuthToken  string `mapstructure:"oauth_token"`
	Model       string `mapstructure:"model"`
	Backend     string `mapstructure:"backend"` // "", "sdk", "cli"
	CLIPath     string `mapstructure:"cli_path"`
	Concurrency int    `mapstructure:"concurrency"`
}

// DatabaseConfig locates the SQLite cache.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// PerformanceConfig bounds per-channel pipeline concurrency.
type PerformanceConfig struct {
	ChannelConcurrency int `mapstructure:"channel_concurrency"`
}

// SettingsConfig holds user-level preferences.
type SettingsConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// EmbeddingsConfig controls the optional embedding-similarity path.
type EmbeddingsConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	ReferenceWeight float64 `mapstructure:"reference_weight"`
	EmbeddingWeight float64 `mapstructure:"embedding_weight"`
}

// Config is the resolved worklog configuration.
type Config struct {
	Slack       SlackConfig       `mapstructure:"slack"`
	Anthropic   AnthropicConfig   `mapstructure:"anthropic"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
}

// SetupCommand is named in fatal configuration errors so the user knows
// how to fix them.
const SetupCommand = "worklog configure"

// Dir returns the user config directory for worklog.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate user config directory")
	}
	return filepath.Join(base, "worklog"), nil
}

// FilePath returns the canonical config file location.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func defaultDatabasePath() string {
	dir, err := Dir()
	if err != nil {
		return "cache.db"
	}
	return filepath.Join(dir, "cache.db")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("slack.rate_limit", 10)
	v.SetDefault("slack.concurrency", 10)
	v.SetDefault("anthropic.model", ModelHaiku)
	v.SetDefault("anthropic.concurrency", 20)
	v.SetDefault("database.path", defaultDatabasePath())
	v.SetDefault("logging.level", "info")
	v.SetDefault("performance.channel_concurrency", 10)
	v.SetDefault("settings.timezone", "America/Los_Angeles")
	v.SetDefault("embeddings.enabled", false)
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.reference_weight", 0.6)
	v.SetDefault("embeddings.embedding_weight", 0.4)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Environment overrides beat the file. The well-known credential
	// variables keep their conventional names.
	bind := func(key string, envs ...string) {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			panic(err)
		}
	}
	bind("slack.user_token", "SLACK_USER_TOKEN")
	bind("slack.rate_limit", "WORKLOG_SLACK_RATE_LIMIT")
	bind("slack.concurrency", "WORKLOG_SLACK_CONCURRENCY")
	bind("anthropic.api_key", "ANTHROPIC_API_KEY")
	bind("anthropic.oauth_token", "CLAUDE_CODE_OAUTH_TOKEN")
	bind("anthropic.model", "WORKLOG_ANTHROPIC_MODEL")
	bind("anthropic.backend", "WORKLOG_ANTHROPIC_BACKEND")
	bind("anthropic.cli_path", "WORKLOG_ANTHROPIC_CLI_PATH")
	bind("anthropic.concurrency", "WORKLOG_ANTHROPIC_CONCURRENCY")
	bind("database.path", "WORKLOG_DATABASE_PATH")
	bind("logging.level", "WORKLOG_LOG_LEVEL")
	bind("performance.channel_concurrency", "WORKLOG_CHANNEL_CONCURRENCY")
	bind("settings.timezone", "WORKLOG_TIMEZONE")
	bind("embeddings.enabled", "WORKLOG_EMBEDDINGS_ENABLED")
	bind("embeddings.api_key", "OPENAI_API_KEY")
	bind("embeddings.model", "WORKLOG_EMBEDDINGS_MODEL")
	bind("embeddings.reference_weight", "WORKLOG_EMBEDDINGS_REFERENCE_WEIGHT")
	bind("embeddings.embedding_weight", "WORKLOG_EMBEDDINGS_EMBEDDING_WEIGHT")

	return v
}

// Load reads the config file (if present) and resolves the final config.
// A missing file is not an error; missing required keys are caught by
// Validate.
func Load() (*Config, error) {
	path, err := FilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom resolves configuration using an explicit file path.
func LoadFrom(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
		// No file: env + defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return &cfg, nil
}

// Validate checks required keys and credential shapes. Errors name the
// corrective command.
func (c *Config) Validate() error {
	if c.Slack.UserToken == "" {
		return fmt.Errorf("slack user token is not configured; run `%s` or set SLACK_USER_TOKEN", SetupCommand)
	}
	if !strings.HasPrefix(c.Slack.UserToken, "xoxp-") {
		return fmt.Errorf("slack user token must begin with xoxp-; run `%s`", SetupCommand)
	}
	if c.Anthropic.APIKey == "" && c.Anthropic.OAuthToken == "" {
		return fmt.Errorf("anthropic credentials are not configured; run `%s` or set ANTHROPIC_API_KEY", SetupCommand)
	}
	if c.Anthropic.APIKey != "" && !strings.HasPrefix(c.Anthropic.APIKey, "sk-ant-") {
		return fmt.Errorf("anthropic api key must begin with sk-ant-; run `%s`", SetupCommand)
	}
	if c.Anthropic.OAuthToken != "" && !strings.HasPrefix(c.Anthropic.OAuthToken, "sk-ant-oat") {
		return fmt.Errorf("anthropic oauth token must begin with sk-ant-oat; run `%s`", SetupCommand)
	}
	if c.Embeddings.Enabled && c.Embeddings.APIKey == "" {
		return fmt.Errorf("embeddings are enabled but no embeddings api key is set; run `%s`", SetupCommand)
	}
	if w := c.Embeddings.ReferenceWeight; w < 0 || w > 1 {
		return fmt.Errorf("embeddings.reference_weight must be within [0,1], got %v", w)
	}
	if w := c.Embeddings.EmbeddingWeight; w < 0 || w > 1 {
		return fmt.Errorf("embeddings.embedding_weight must be within [0,1], got %v", w)
	}
	if c.Slack.RateLimit <= 0 {
		return fmt.Errorf("slack.rate_limit must be positive, got %d", c.Slack.RateLimit)
	}
	return nil
}

// Write persists the configuration file with 0600 permissions.
func Write(path string, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}
