package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/MegaGrindStone/hitl-web-ui/internal/config"
	"github.com/MegaGrindStone/hitl-web-ui/internal/handlers"
)

type serverConfig struct {
	Port           string        `yaml:"port"`
	BackendURL     string        `yaml:"backendURL"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	SessionTTL     time.Duration `yaml:"sessionTTL"`

	config.Logging `yaml:",inline"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Port:       "8080",
		BackendURL: "http://localhost:8000",
		SessionTTL: handlers.DefaultSessionTTL,
	}
}

func (c serverConfig) validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backendURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backendURL must be an http or https URL, got %q", c.BackendURL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must not be negative")
	}
	return nil
}
