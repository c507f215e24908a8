// Package config loads vrelay settings from a TOML file.
//
// Values absent from the file keep their defaults; the CLI then applies
// explicit flags on top.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config holds the settings shared by every CLI command.
type Config struct {
	// Database is the SQLite path for the relay journal.
	Database string `validate:"required"`

	// Specs is the directory of CUE backend manifests.
	Specs string `validate:"required"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `validate:"oneof=debug info warn error"`

	// LogFormat is text or json.
	LogFormat string `validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:  "vrelay.db",
		Specs:     "specs",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

type fileConfig struct {
	Database  string `toml:"database"`
	Specs     string `toml:"specs"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

var validate = validator.New()

// Load reads path over the defaults and validates the result.
// Keys the file does not define keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("database") {
		cfg.Database = strings.TrimSpace(raw.Database)
	}
	if meta.IsDefined("specs") {
		cfg.Specs = strings.TrimSpace(raw.Specs)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level maps LogLevel to a slog level. Unknown values map to info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
