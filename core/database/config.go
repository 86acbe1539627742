// Package database opens the Postgres pool and applies schema migrations.
package database

import (
	"strings"
	"time"
)

// Config holds database connection settings.
type Config struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// WaitSeconds is how long Open keeps pinging a database that is not up yet.
	WaitSeconds int `yaml:"wait_seconds" envconfig:"DB_WAIT_SECONDS"`
}

// DSN returns the lib/pq keyword/value connection string. Empty keys are left
// out so libpq defaults and PG* variables still apply.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	pairs := [][2]string{
		{"host", c.Host}, {"port", c.Port}, {"user", c.User},
		{"password", c.Password}, {"dbname", c.Name}, {"sslmode", sslMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p[1] != "" {
			parts = append(parts, p[0]+"="+quote(p[1]))
		}
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + v + "'"
}

func (c Config) wait() time.Duration {
	if c.WaitSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.WaitSeconds) * time.Second
}
