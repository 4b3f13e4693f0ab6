// Package config holds the pieces of configuration loading shared by the server and backend commands.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DirEnv names the environment variable that overrides the configuration directory.
const DirEnv = "HITLWEBUI_CONFIG_DIR"

// Logging is the logging section shared by every configuration file.
type Logging struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// LoadEnv loads a .env file from the working directory, if there is one. Variables already set in the
// environment are not overridden.
func LoadEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error loading .env file: %w", err)
}

// Dir returns the configuration directory, creating it if needed. It is $HITLWEBUI_CONFIG_DIR when
// set, otherwise the hitlwebui directory inside the user config dir.
func Dir() (string, error) {
	dir := os.Getenv(DirEnv)
	if dir == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("error getting user config dir: %w", err)
		}
		dir = filepath.Join(cfgDir, "hitlwebui")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

// Decode decodes the YAML file at path into v. A missing file leaves v untouched, so the caller's
// defaults apply.
func Decode(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error decoding config file %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the process logger writing to w. Level is one of debug, info, warn or error
// (default info), format is text or json (default text).
func (l Logging) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if l.LogLevel != "" {
		if err := level.UnmarshalText([]byte(l.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.LogLevel, err)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", l.LogFormat)
	}
}
