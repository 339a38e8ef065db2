package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("retry defaults = %+v", cfg.Retry)
	}
	if cfg.Stream.ReconnectAttempts != 3 || cfg.Stream.ReconnectInterval != 10*time.Second {
		t.Errorf("stream defaults = %+v", cfg.Stream)
	}
	if cfg.Pool.MaxEntries != 1000 || cfg.Pool.DefaultTTL != 8*time.Hour {
		t.Errorf("pool defaults = %+v", cfg.Pool)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := writeConfig(t, `
[server]
addr = ":9000"
api_tokens = ["secret-1", "secret-2"]

[brokers.ANGEL]
base_url = "https://apiconnect.example.com"
api_key = "key-123"

[paper]
enabled = true

[stream]
reconnect_attempts = 5
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.APITokens) != 2 {
		t.Errorf("api_tokens = %v", cfg.Server.APITokens)
	}
	angel, ok := cfg.Brokers["ANGEL"]
	if !ok || angel.BaseURL != "https://apiconnect.example.com" || angel.APIKey != "key-123" {
		t.Errorf("brokers.ANGEL = %+v", angel)
	}
	if !cfg.Paper.Enabled {
		t.Error("paper.enabled = false, want true")
	}
	if cfg.Stream.ReconnectAttempts != 5 {
		t.Errorf("stream.reconnect_attempts = %d", cfg.Stream.ReconnectAttempts)
	}
	// Untouched sections keep their defaults.
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry.max_attempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestBrokerKeysCanonicalized(t *testing.T) {
	// TOML table keys come back from viper lowercased; the loader must
	// still land them under the uppercase broker id, including when an
	// env override targets the same broker.
	dir := writeConfig(t, `
[brokers.fyers]
base_url = "https://api-t1.example.com"
`)
	t.Setenv("GATEWAY_FYERS_API_KEY", "env-key")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fyers, ok := cfg.Brokers["FYERS"]
	if !ok {
		t.Fatalf("brokers = %+v, want FYERS entry", cfg.Brokers)
	}
	if fyers.BaseURL != "https://api-t1.example.com" || fyers.APIKey != "env-key" {
		t.Errorf("brokers.FYERS = %+v", fyers)
	}
	if _, ok := cfg.Brokers["fyers"]; ok {
		t.Error("lowercase key survived canonicalization")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":7000")
	t.Setenv("GATEWAY_API_TOKENS", "a,b,c")
	t.Setenv("GATEWAY_FYERS_API_KEY", "env-key")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.APITokens) != 3 {
		t.Errorf("api_tokens = %v", cfg.Server.APITokens)
	}
	if cfg.Brokers["FYERS"].APIKey != "env-key" {
		t.Errorf("fyers api_key = %q", cfg.Brokers["FYERS"].APIKey)
	}
}

func TestValidateRejectsUnknownBroker(t *testing.T) {
	dir := writeConfig(t, `
[brokers.ZERODHA]
api_key = "key"
`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for unknown broker section")
	}
}

func TestValidateRejectsBadRetry(t *testing.T) {
	dir := writeConfig(t, `
[retry]
max_attempts = 0
`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for zero retry attempts")
	}
}
