package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "trade" || !cfg.PaperMode {
		t.Fatalf("defaults not applied: mode=%q paper=%v", cfg.Mode, cfg.PaperMode)
	}
	if cfg.Engine.TickMillis != 500 {
		t.Fatalf("tick_millis = %d, want 500", cfg.Engine.TickMillis)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "monitor"

[risk]
bankroll = 2500.0

[engine]
assets = ["btc"]
window_seconds = [300]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("UPDOWNBOT_MAX_TRADE_USD", "25")
	t.Setenv("UPDOWNBOT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Fatalf("mode = %q, want monitor from file", cfg.Mode)
	}
	if cfg.Risk.Bankroll != 2500 {
		t.Fatalf("bankroll = %v, want 2500 from file", cfg.Risk.Bankroll)
	}
	if cfg.Risk.MaxTradeUSD != 25 {
		t.Fatalf("max trade = %v, want env override 25", cfg.Risk.MaxTradeUSD)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %q, want env override", cfg.Redis.Addr)
	}
	// File sections not mentioned keep their defaults.
	if cfg.Engine.MispriceSumMax != 0.98 {
		t.Fatalf("misprice_sum_max = %v, want default 0.98", cfg.Engine.MispriceSumMax)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown mode should fail validation")
	}

	cfg = Defaults()
	cfg.Engine.WindowSeconds = []int{60}
	if err := cfg.Validate(); err == nil {
		t.Fatal("a 60s window should fail validation")
	}

	cfg = Defaults()
	cfg.Engine.Assets = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty asset list should fail validation")
	}
}

func TestDatabaseConfigured(t *testing.T) {
	var d DatabaseConfig
	if d.Configured() {
		t.Fatal("empty config should not be configured")
	}
	d.DSN = "postgres://u:p@localhost/updownbot"
	if !d.Configured() {
		t.Fatal("DSN should count as configured")
	}
}
