// Package config loads the settings shared by every dialogbot command: the
// operator bot and the log output. Application configs embed Config and add
// their own sections.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is exported into the environment before overrides are read.
// A missing file is not an error.
var DotEnvFile = ".env"

const defaultPollTimeoutSeconds = 10

// Operator configures the control bot used by the human operator.
type Operator struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// AdminID is the only user allowed to control workers; notices go to this chat.
	AdminID            int64 `yaml:"admin_id" envconfig:"ADMIN_ID"`
	PollTimeoutSeconds int   `yaml:"poll_timeout_seconds" envconfig:"POLL_TIMEOUT_SECONDS"`
	// ThrottleMS is the minimum gap between two commands of the operator. Button presses are not throttled.
	ThrottleMS int `yaml:"throttle_ms" envconfig:"THROTTLE_MS"`
}

// Logging selects the log level, line format and sinks.
type Logging struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	// KeyOrder is a comma separated list of leading keys; empty keeps the built-in order.
	KeyOrder string `yaml:"key_order"`
	// File, when set, receives a copy of every line.
	File    string `yaml:"file" envconfig:"LOG_FILE"`
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// Config is the core part of the application configuration.
type Config struct {
	Operator Operator `yaml:"operator"`
	Logging  Logging  `yaml:"logging"`
}

// Decode reads the YAML file at path into dst, then applies .env and the
// process environment on top of it.
func Decode(path string, dst any) error {
	if err := exportDotEnv(DotEnvFile); err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// exportDotEnv never overrides variables that are already set.
func exportDotEnv(file string) error {
	if strings.TrimSpace(file) == "" {
		return nil
	}
	err := godotenv.Load(file)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load %s: %w", file, err)
}

// Normalize validates the operator settings and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	op := &cfg.Operator
	if strings.TrimSpace(op.Token) == "" {
		return errors.New("config: operator.token (BOT_TOKEN) is required")
	}
	if op.AdminID == 0 {
		return errors.New("config: operator.admin_id (ADMIN_ID) is required to deliver notices")
	}
	switch {
	case op.PollTimeoutSeconds < 0:
		return fmt.Errorf("config: operator.poll_timeout_seconds must be >= 0, got %d", op.PollTimeoutSeconds)
	case op.PollTimeoutSeconds == 0:
		op.PollTimeoutSeconds = defaultPollTimeoutSeconds
	}
	if op.ThrottleMS < 0 {
		op.ThrottleMS = 0
	}
	NormalizeLogging(&cfg.Logging)
	return nil
}

// NormalizeLogging lowercases the logging enums and picks the format from the
// profile when none is given.
func NormalizeLogging(l *Logging) {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	l.Profile = strings.ToLower(strings.TrimSpace(l.Profile))
	if l.Profile == "" {
		l.Profile = "prod"
	}
	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	switch l.Format {
	case "kv", "json":
	case "text", "pretty":
		l.Format = "kv"
	default:
		l.Format = "json"
		if l.Profile == "dev" || l.Profile == "debug" {
			l.Format = "kv"
		}
	}
}
