package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config captures runtime configuration for the escrow daemon.
type Config struct {
	ListenAddress  string
	LedgerURL      string
	LedgerToken    string
	SignerKey      string
	AuthToken      string
	Environment    string
	LogLevel       string
	RequestTimeout time.Duration
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:  getenvDefault("ESCROWD_LISTEN", ":8085"),
		LedgerURL:      os.Getenv("ESCROWD_LEDGER_URL"),
		LedgerToken:    strings.TrimSpace(os.Getenv("ESCROWD_LEDGER_TOKEN")),
		SignerKey:      strings.TrimSpace(os.Getenv("ESCROWD_SIGNER_KEY")),
		AuthToken:      strings.TrimSpace(os.Getenv("ESCROWD_AUTH_TOKEN")),
		Environment:    strings.TrimSpace(os.Getenv("ESCROWD_ENV")),
		LogLevel:       getenvDefault("ESCROWD_LOG_LEVEL", "info"),
		RequestTimeout: 30 * time.Second,
	}

	if raw := strings.TrimSpace(os.Getenv("ESCROWD_REQUEST_TIMEOUT")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse ESCROWD_REQUEST_TIMEOUT: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("ESCROWD_REQUEST_TIMEOUT must be positive")
		}
		cfg.RequestTimeout = dur
	}

	if strings.TrimSpace(cfg.LedgerURL) == "" {
		return Config{}, errors.New("ESCROWD_LEDGER_URL is required")
	}
	if cfg.SignerKey == "" {
		return Config{}, errors.New("ESCROWD_SIGNER_KEY is required")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
