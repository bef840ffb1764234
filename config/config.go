// Package config loads the engine configuration from a JSON file and fills
// in calibrated defaults for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AgentConfig configures one trading agent.
type AgentConfig struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`

	// PaperTrading routes orders to the in-process simulator; DryRun uses
	// the real venue client but only logs instead of submitting.
	PaperTrading bool `json:"paper_trading,omitempty"`
	DryRun       bool `json:"dry_run,omitempty"`

	Exchange string `json:"exchange"` // "paper" or "okx"

	OKXAPIKey     string `json:"okx_api_key,omitempty"`
	OKXSecretKey  string `json:"okx_secret_key,omitempty"`
	OKXPassphrase string `json:"okx_passphrase,omitempty"`

	InitialBalance float64 `json:"initial_balance"`
	// CamouflageSeed fixes the disguise PRNG; 0 seeds from the clock.
	CamouflageSeed int64 `json:"camouflage_seed,omitempty"`
}

// RiskConfig carries the sizing and validation calibration.
type RiskConfig struct {
	KellyDampener       float64 `json:"kelly_dampener"`
	RiskOnMultiplier    float64 `json:"risk_on_multiplier"`
	RiskOffMultiplier   float64 `json:"risk_off_multiplier"`
	MinPositionFraction float64 `json:"min_position_fraction"`
	MaxPositionFraction float64 `json:"max_position_fraction"`
	MinStopDistancePct  float64 `json:"min_stop_distance_pct"`
	MaxStopDistancePct  float64 `json:"max_stop_distance_pct"`
	MaxLeverage         float64 `json:"max_leverage"`
	MaxDrawdownTarget   float64 `json:"max_drawdown_target"`
}

// TrailingConfig calibrates trailing-stop behavior.
type TrailingConfig struct {
	ActivationPct    float64 `json:"activation_pct"`
	TrailDistancePct float64 `json:"trail_distance_pct"`
}

// Config is the root configuration document.
type Config struct {
	Agents []AgentConfig `json:"agents"`

	Risk     RiskConfig     `json:"risk"`
	Trailing TrailingConfig `json:"trailing"`

	TrendPeriodDays        int `json:"trend_period_days"`
	MonitorIntervalSeconds int `json:"monitor_interval_seconds"`
	StatsLookbackTrades    int `json:"stats_lookback_trades"`

	// DatabaseURL enables postgres persistence when non-empty.
	DatabaseURL string `json:"database_url,omitempty"`
}

// LoadConfig reads, defaults and validates a configuration file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Risk.KellyDampener <= 0 {
		c.Risk.KellyDampener = 0.25
	}
	if c.Risk.RiskOnMultiplier <= 0 {
		c.Risk.RiskOnMultiplier = 1.5
	}
	if c.Risk.RiskOffMultiplier <= 0 {
		c.Risk.RiskOffMultiplier = 0.5
	}
	if c.Risk.MinPositionFraction <= 0 {
		c.Risk.MinPositionFraction = 0.05
	}
	if c.Risk.MaxPositionFraction <= 0 {
		c.Risk.MaxPositionFraction = 0.25
	}
	if c.Risk.MinStopDistancePct <= 0 {
		c.Risk.MinStopDistancePct = 0.005
	}
	if c.Risk.MaxStopDistancePct <= 0 {
		c.Risk.MaxStopDistancePct = 0.10
	}
	if c.Risk.MaxLeverage <= 0 {
		c.Risk.MaxLeverage = 2.0
	}
	if c.Risk.MaxDrawdownTarget <= 0 {
		c.Risk.MaxDrawdownTarget = 0.45
	}
	if c.Trailing.ActivationPct <= 0 {
		c.Trailing.ActivationPct = 0.02
	}
	if c.Trailing.TrailDistancePct <= 0 {
		c.Trailing.TrailDistancePct = 0.015
	}
	if c.TrendPeriodDays <= 0 {
		c.TrendPeriodDays = 200
	}
	if c.MonitorIntervalSeconds <= 0 {
		c.MonitorIntervalSeconds = 30
	}
	if c.StatsLookbackTrades <= 0 {
		c.StatsLookbackTrades = 50
	}

	for i := range c.Agents {
		if len(c.Agents[i].Symbols) == 0 {
			c.Agents[i].Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
		}
		if c.Agents[i].Exchange == "" {
			c.Agents[i].Exchange = "paper"
		}
		if c.Agents[i].InitialBalance <= 0 {
			c.Agents[i].InitialBalance = 10000
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}

	agentIDs := make(map[string]bool)
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent[%d]: id is required", i)
		}
		if agentIDs[agent.ID] {
			return fmt.Errorf("agent[%d]: duplicate id %q", i, agent.ID)
		}
		agentIDs[agent.ID] = true

		if agent.Exchange != "paper" && agent.Exchange != "okx" {
			return fmt.Errorf("agent[%d]: exchange must be 'paper' or 'okx', got %q", i, agent.Exchange)
		}
		if agent.Exchange == "okx" && !agent.PaperTrading {
			if agent.OKXAPIKey == "" || agent.OKXSecretKey == "" || agent.OKXPassphrase == "" {
				return fmt.Errorf("agent[%d]: okx credentials are required outside paper trading", i)
			}
		}
	}

	if c.Risk.MinPositionFraction >= c.Risk.MaxPositionFraction {
		return fmt.Errorf("min_position_fraction %.4f must be below max_position_fraction %.4f",
			c.Risk.MinPositionFraction, c.Risk.MaxPositionFraction)
	}
	if c.Risk.MinStopDistancePct >= c.Risk.MaxStopDistancePct {
		return fmt.Errorf("min_stop_distance_pct %.4f must be below max_stop_distance_pct %.4f",
			c.Risk.MinStopDistancePct, c.Risk.MaxStopDistancePct)
	}
	if c.Risk.KellyDampener > 1 {
		return fmt.Errorf("kelly_dampener %.4f must not exceed 1", c.Risk.KellyDampener)
	}
	return nil
}

// MonitorInterval returns the polling period for position monitors.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}
