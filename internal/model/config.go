package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Account holds the connection settings for a single mailbox to mirror.
// Immutable after construction.
type Account struct {
	// ID is the unique key for this account (usually the address).
	ID string `mapstructure:"id" yaml:"id"`

	// Host and Port locate the IMAP server.
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS; when false the connection upgrades
	// via STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty in the config file, in which case it is
	// resolved from the system keyring at startup.
	Password string `mapstructure:"password" yaml:"password"`

	// SMTPHost and SMTPPort are used for sending replies. Optional.
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" yaml:"smtp_port"`
}

// SyncConfig controls the mailbox synchronization engine.
type SyncConfig struct {
	// WindowDays is the trailing window covered by the initial backfill.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`
}

// AIConfig holds settings for the generative classifier.
type AIConfig struct {
	// APIKey may be left empty and provided via ANTHROPIC_API_KEY instead.
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NotifyConfig configures the lead notification channels. A channel is
// enabled by setting its URL.
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url"`
	WebhookURL      string `mapstructure:"webhook_url" yaml:"webhook_url"`

	// TimeoutSec is the per-channel delivery timeout.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []Account    `mapstructure:"accounts" yaml:"accounts"`
	Sync     SyncConfig   `mapstructure:"sync" yaml:"sync"`
	AI       AIConfig     `mapstructure:"ai" yaml:"ai"`
	Notify   NotifyConfig `mapstructure:"notify" yaml:"notify"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`

	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/onebox/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "onebox", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Sync: SyncConfig{WindowDays: 30},
		AI: AIConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Notify: NotifyConfig{TimeoutSec: 10},
		Server: ServerConfig{Addr: ":8080"},
		DBPath: filepath.Join(filepath.Dir(DefaultConfigPath()), "onebox.db"),
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("sync.window_days", 30)
	v.SetDefault("ai.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("notify.timeout_sec", 10)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db_path", filepath.Join(filepath.Dir(DefaultConfigPath()), "onebox.db"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.Port == 0 {
			a.Port = 993
		}
		if a.ID == "" {
			a.ID = a.Username
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("sync", cfg.Sync)
	v.Set("ai", cfg.AI)
	v.Set("notify", cfg.Notify)
	v.Set("server", cfg.Server)
	v.Set("db_path", cfg.DBPath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
