package config_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MegaGrindStone/hitl-web-ui/internal/config"
)

func TestDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cfg")
	t.Setenv(config.DirEnv, dir)

	got, err := config.Dir()
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	if got != dir {
		t.Errorf("Dir() = %q, want %q", got, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Dir() should create %s, stat err = %v", dir, err)
	}
}

func TestDecode(t *testing.T) {
	type cfg struct {
		Port string `yaml:"port"`
		config.Logging `yaml:",inline"`
	}

	dir := t.TempDir()

	t.Run("Missing file keeps defaults", func(t *testing.T) {
		c := cfg{Port: "8080"}
		if err := config.Decode(filepath.Join(dir, "missing.yaml"), &c); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if c.Port != "8080" {
			t.Errorf("Port = %q, want 8080", c.Port)
		}
	})

	t.Run("Empty file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		c := cfg{Port: "8080"}
		if err := config.Decode(path, &c); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if c.Port != "8080" {
			t.Errorf("Port = %q, want 8080", c.Port)
		}
	})

	t.Run("Values override defaults", func(t *testing.T) {
		path := filepath.Join(dir, "set.yaml")
		if err := os.WriteFile(path, []byte("port: \"9090\"\nlogLevel: debug\n"), 0600); err != nil {
			t.Fatal(err)
		}
		c := cfg{Port: "8080"}
		if err := config.Decode(path, &c); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if c.Port != "9090" || c.LogLevel != "debug" {
			t.Errorf("Decode() = %+v", c)
		}
	})

	t.Run("Malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("port: [\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := config.Decode(path, &cfg{}); err == nil {
			t.Error("Decode() should fail on malformed yaml")
		}
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		logging config.Logging
		wantErr bool
		want    string
	}{
		{name: "Defaults", logging: config.Logging{}, want: "level=INFO"},
		{name: "JSON", logging: config.Logging{LogFormat: "json"}, want: `"level":"INFO"`},
		{name: "Unknown format", logging: config.Logging{LogFormat: "xml"}, wantErr: true},
		{name: "Unknown level", logging: config.Logging{LogLevel: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := tt.logging.NewLogger(&buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			logger.Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output = %q, want to contain %q", buf.String(), tt.want)
			}
		})
	}

	var buf bytes.Buffer
	logger, err := config.Logging{LogLevel: "warn"}.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	if logger.Enabled(context.Background(), slog.LevelInfo) || buf.Len() != 0 {
		t.Errorf("warn level should drop info records, got %q", buf.String())
	}
}
