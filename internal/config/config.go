// Package config loads the decision service configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	DB      DBConfig      `koanf:"db"`
	AI      AIConfig      `koanf:"ai"`
	Bias    BiasConfig    `koanf:"bias"`
	History HistoryConfig `koanf:"history"`
	Limits  LimitsConfig  `koanf:"limits"`
	Log     LogConfig     `koanf:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           string   `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DBConfig points at the SQLite file.
type DBConfig struct {
	Path   string `koanf:"path"`
	Silent bool   `koanf:"silent"`
}

// AIConfig configures the reasoning oracle.
type AIConfig struct {
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model"`
	FallbackModel string        `koanf:"fallback_model"`
	BaseURL       string        `koanf:"base_url"`
	Temperature   float64       `koanf:"temperature"`
	MaxTokens     int           `koanf:"max_tokens"`
	Timeout       time.Duration `koanf:"timeout"`
	Disabled      bool          `koanf:"disabled"`
}

// BiasConfig optionally overrides the affect vocabulary.
type BiasConfig struct {
	TermsPath string `koanf:"terms_path"`

	// Watch reloads the terms file when it changes on disk.
	Watch bool `koanf:"watch"`
}

// HistoryConfig controls how past decisions are rendered.
type HistoryConfig struct {
	Timezone string `koanf:"timezone"`
}

// LimitsConfig bounds per-user calls to the oracle. A zero rate disables limiting.
type LimitsConfig struct {
	OracleRPS   float64 `koanf:"oracle_rps"`
	OracleBurst int     `koanf:"oracle_burst"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ai.temperature %.2f out of range [0, 2]", c.AI.Temperature))
	}
	if c.AI.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("ai.max_tokens %d must not be negative", c.AI.MaxTokens))
	}
	if c.Limits.OracleRPS < 0 {
		errs = append(errs, fmt.Errorf("limits.oracle_rps %.2f must not be negative", c.Limits.OracleRPS))
	}
	if c.Limits.OracleRPS > 0 && c.Limits.OracleBurst < 1 {
		errs = append(errs, errors.New("limits.oracle_burst must be at least 1 when limiting is enabled"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("history.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location resolves the history timezone; empty means the server's local zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.History.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logrus.SetLevel(level)
	}
	if strings.EqualFold(c.Log.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
