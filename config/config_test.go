package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"agents": [{"id": "alpha", "name": "Alpha"}]
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Risk.KellyDampener != 0.25 {
		t.Errorf("kelly_dampener default = %.4f, want 0.25", cfg.Risk.KellyDampener)
	}
	if cfg.Risk.MaxStopDistancePct != 0.10 {
		t.Errorf("max_stop_distance_pct default = %.4f, want 0.10", cfg.Risk.MaxStopDistancePct)
	}
	if cfg.TrendPeriodDays != 200 {
		t.Errorf("trend_period_days default = %d, want 200", cfg.TrendPeriodDays)
	}
	if cfg.MonitorInterval() != 30*time.Second {
		t.Errorf("monitor interval = %s, want 30s", cfg.MonitorInterval())
	}
	if cfg.Agents[0].Exchange != "paper" {
		t.Errorf("exchange default = %q, want paper", cfg.Agents[0].Exchange)
	}
	if cfg.Agents[0].InitialBalance != 10000 {
		t.Errorf("initial_balance default = %.2f, want 10000", cfg.Agents[0].InitialBalance)
	}
	if len(cfg.Agents[0].Symbols) == 0 {
		t.Error("expected default symbol list")
	}
}

func TestLoadConfigHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"agents": [{"id": "alpha", "name": "Alpha", "symbols": ["BTCUSDT"], "initial_balance": 25000}],
		"risk": {"kelly_dampener": 0.5, "max_leverage": 1.5},
		"trend_period_days": 100,
		"monitor_interval_seconds": 10
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Risk.KellyDampener != 0.5 || cfg.Risk.MaxLeverage != 1.5 {
		t.Errorf("explicit risk values not honored: %+v", cfg.Risk)
	}
	if cfg.TrendPeriodDays != 100 || cfg.MonitorInterval() != 10*time.Second {
		t.Errorf("explicit intervals not honored: %d, %s", cfg.TrendPeriodDays, cfg.MonitorInterval())
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no agents", `{"agents": []}`},
		{"missing id", `{"agents": [{"name": "Alpha"}]}`},
		{"duplicate id", `{"agents": [{"id": "a", "name": "A"}, {"id": "a", "name": "B"}]}`},
		{"unknown exchange", `{"agents": [{"id": "a", "name": "A", "exchange": "nasdaq"}]}`},
		{"okx without credentials", `{"agents": [{"id": "a", "name": "A", "exchange": "okx"}]}`},
		{"inverted fractions", `{"agents": [{"id": "a", "name": "A"}], "risk": {"min_position_fraction": 0.3, "max_position_fraction": 0.25}}`},
		{"dampener above one", `{"agents": [{"id": "a", "name": "A"}], "risk": {"kelly_dampener": 1.5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
