// Package app wires the operator bot, the session store and the worker registry.
package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	coredatabase "github.com/m3rciful/dialogbot/core/database"
)

// ClientConfig describes the MTProto application and the chat target.
type ClientConfig struct {
	AppID   int    `yaml:"app_id" envconfig:"API_ID"`
	AppHash string `yaml:"app_hash" envconfig:"API_HASH"`
	Target  string `yaml:"target" envconfig:"TARGET_BOT"`
}

// AutomationConfig holds the account-independent worker policy.
type AutomationConfig struct {
	SearchCommand    string `yaml:"search_command"`
	SkipCommand      string `yaml:"skip_command"`
	RetryCap         int    `yaml:"retry_cap" envconfig:"RETRY_CAP"`
	RetryDelayMS     int    `yaml:"retry_delay_ms" envconfig:"RETRY_DELAY_MS"`
	SkipSettleMS     int    `yaml:"skip_settle_ms"`
	StopGraceMS      int    `yaml:"stop_grace_ms" envconfig:"STOP_GRACE_MS"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	StartParallelism int    `yaml:"start_parallelism"`
	AutoStart        bool   `yaml:"auto_start" envconfig:"AUTO_START"`
}

// SecretsConfig locates the key sealing stored sessions. SessionKey wins over
// the OS keyring entry.
type SecretsConfig struct {
	SessionKey     string `yaml:"session_key" envconfig:"SESSION_KEY"`
	KeyringService string `yaml:"keyring_service" envconfig:"KEYRING_SERVICE"`
	KeyringUser    string `yaml:"keyring_user" envconfig:"KEYRING_USER"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database   coredatabase.Config `yaml:"database"`
	Client     ClientConfig        `yaml:"client"`
	Automation AutomationConfig    `yaml:"automation"`
	Secrets    SecretsConfig       `yaml:"secrets"`
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadStorageConfig reads the configuration without requiring the bot
// settings. Offline commands such as migrate use it.
func LoadStorageConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.applyDefaults()
	if c.Client.AppID <= 0 || strings.TrimSpace(c.Client.AppHash) == "" {
		return fmt.Errorf("client.app_id and client.app_hash are required")
	}
	if !strings.HasPrefix(c.Client.Target, "@") {
		return fmt.Errorf("client.target must be a @username, got %q", c.Client.Target)
	}
	if c.Automation.RetryCap < 1 {
		return fmt.Errorf("automation.retry_cap must be >= 1")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Client.Target == "" {
		c.Client.Target = "@ZnakomstvaAnonimniyChatBot"
	}
	a := &c.Automation
	if a.SearchCommand == "" {
		a.SearchCommand = "/search"
	}
	if a.SkipCommand == "" {
		a.SkipCommand = "/next"
	}
	if a.RetryCap == 0 {
		a.RetryCap = 3
	}
	if a.RetryDelayMS <= 0 {
		a.RetryDelayMS = 10_000
	}
	if a.SkipSettleMS <= 0 {
		a.SkipSettleMS = 2_000
	}
	if a.StopGraceMS <= 0 {
		a.StopGraceMS = 10_000
	}
	if a.ConnectTimeoutMS <= 0 {
		a.ConnectTimeoutMS = 30_000
	}
	if a.StartParallelism <= 0 {
		a.StartParallelism = 4
	}
	if c.Secrets.KeyringService == "" {
		c.Secrets.KeyringService = "dialogbot"
	}
	if c.Secrets.KeyringUser == "" {
		c.Secrets.KeyringUser = "session-key"
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
