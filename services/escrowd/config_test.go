package main

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ESCROWD_LEDGER_URL", "http://localhost:8545")
	t.Setenv("ESCROWD_SIGNER_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("ESCROWD_LISTEN", "")
	t.Setenv("ESCROWD_REQUEST_TIMEOUT", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.ListenAddress != ":8085" {
		t.Fatalf("unexpected default listen address %s", cfg.ListenAddress)
	}
	if cfg.LogLevel != "info" || cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("ESCROWD_LEDGER_URL", "http://ledger:8545")
	t.Setenv("ESCROWD_SIGNER_KEY", "abc123")
	t.Setenv("ESCROWD_LISTEN", ":9000")
	t.Setenv("ESCROWD_REQUEST_TIMEOUT", "5s")
	t.Setenv("ESCROWD_LOG_LEVEL", "debug")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.RequestTimeout != 5*time.Second || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnvRequiredFields(t *testing.T) {
	t.Setenv("ESCROWD_LEDGER_URL", "")
	t.Setenv("ESCROWD_SIGNER_KEY", "abc123")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error without ledger url")
	}

	t.Setenv("ESCROWD_LEDGER_URL", "http://localhost:8545")
	t.Setenv("ESCROWD_SIGNER_KEY", "")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error without signer key")
	}

	t.Setenv("ESCROWD_SIGNER_KEY", "abc123")
	t.Setenv("ESCROWD_REQUEST_TIMEOUT", "soon")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for malformed timeout")
	}
}
