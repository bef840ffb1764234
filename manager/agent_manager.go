// Package manager owns the set of running agents and the shared risk state
// they report into.
package manager

import (
	"fmt"
	"log"
	"os"
	"sync"

	"tradeguard/config"
	"tradeguard/decision"
	"tradeguard/execution"
	"tradeguard/featureflag"
	"tradeguard/market"
	"tradeguard/position"
	"tradeguard/risk"
	"tradeguard/sizing"
	"tradeguard/trader"
)

// AgentManager assembles and supervises multiple agents sharing one feature
// flag set and one equity tracker.
type AgentManager struct {
	mu      sync.RWMutex
	agents  map[string]*trader.Agent
	tracker *risk.Tracker
	flags   *featureflag.RuntimeFlags
	feed    market.Feed
}

// NewAgentManager builds an empty manager. A nil flag set falls back to
// defaults with env overrides applied.
func NewAgentManager(flags *featureflag.RuntimeFlags, feed market.Feed) *AgentManager {
	if flags == nil {
		flags = featureflag.NewRuntimeFlags(featureflag.WithEnvOverrides(featureflag.DefaultState()))
	}
	if feed == nil {
		feed = market.NewBinanceFeed()
	}
	return &AgentManager{
		agents:  make(map[string]*trader.Agent),
		tracker: risk.NewTracker(),
		flags:   flags,
		feed:    feed,
	}
}

// AddAgent wires one agent from configuration. The signal source is injected
// because it is the one collaborator configuration cannot describe; history
// may be nil, in which case the agent sizes off its own ledger.
func (m *AgentManager) AddAgent(cfg *config.Config, agentCfg config.AgentConfig, source decision.Source, history sizing.HistoryProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[agentCfg.ID]; exists {
		return fmt.Errorf("agent ID %q already registered", agentCfg.ID)
	}

	submitter, err := buildSubmitter(agentCfg)
	if err != nil {
		return err
	}

	sizer := sizing.NewSizer(sizing.Bounds{
		KellyDampener:       cfg.Risk.KellyDampener,
		RiskOnMultiplier:    cfg.Risk.RiskOnMultiplier,
		RiskOffMultiplier:   cfg.Risk.RiskOffMultiplier,
		MinPositionFraction: cfg.Risk.MinPositionFraction,
		MaxPositionFraction: cfg.Risk.MaxPositionFraction,
	})
	validator := risk.NewValidator(agentCfg.ID, risk.Bounds{
		MinPositionFraction: cfg.Risk.MinPositionFraction,
		MaxPositionFraction: cfg.Risk.MaxPositionFraction,
		MinStopDistancePct:  cfg.Risk.MinStopDistancePct,
		MaxStopDistancePct:  cfg.Risk.MaxStopDistancePct,
		MaxLeverage:         cfg.Risk.MaxLeverage,
		MaxDrawdownTarget:   cfg.Risk.MaxDrawdownTarget,
	})
	ledger := position.NewLedger(agentCfg.ID, position.TrailingConfig{
		ActivationPct:    cfg.Trailing.ActivationPct,
		TrailDistancePct: cfg.Trailing.TrailDistancePct,
	}, m.flags)

	agent := trader.New(trader.Config{
		AgentID:        agentCfg.ID,
		InitialBalance: agentCfg.InitialBalance,
		TrendPeriod:    cfg.TrendPeriodDays,
		StatsLookback:  cfg.StatsLookbackTrades,
		SignalInterval: cfg.MonitorInterval(),
	}, trader.Deps{
		Flags:      m.flags,
		Feed:       m.feed,
		Source:     source,
		Sizer:      sizer,
		Validator:  validator,
		Tracker:    m.tracker,
		Camouflage: execution.NewCamouflager(agentCfg.CamouflageSeed, m.flags),
		Submitter:  submitter,
		Ledger:     ledger,
		History:    history,
	})

	m.agents[agentCfg.ID] = agent
	log.Printf("✓ agent %q (%s) registered on %s", agentCfg.ID, agentCfg.Name, agentCfg.Exchange)
	return nil
}

func buildSubmitter(agentCfg config.AgentConfig) (execution.Submitter, error) {
	if agentCfg.PaperTrading || agentCfg.Exchange == "paper" {
		return execution.NewPaperSubmitter(), nil
	}

	switch agentCfg.Exchange {
	case "okx":
		apiKey := valueOrEnv(agentCfg.OKXAPIKey, "OKX_API_KEY")
		secretKey := valueOrEnv(agentCfg.OKXSecretKey, "OKX_SECRET_KEY")
		passphrase := valueOrEnv(agentCfg.OKXPassphrase, "OKX_PASSPHRASE")
		return execution.NewOKXSubmitter(apiKey, secretKey, passphrase, agentCfg.DryRun), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", agentCfg.Exchange)
	}
}

func valueOrEnv(value, envKey string) string {
	if value != "" {
		return value
	}
	if v, ok := os.LookupEnv(envKey); ok {
		return v
	}
	return ""
}

// Agent returns a registered agent.
func (m *AgentManager) Agent(id string) (*trader.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, exists := m.agents[id]
	if !exists {
		return nil, fmt.Errorf("agent ID %q not registered", id)
	}
	return agent, nil
}

// AgentIDs lists every registered agent ID.
func (m *AgentManager) AgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	return ids
}

// FeatureFlags exposes the shared runtime flags for operator tooling.
func (m *AgentManager) FeatureFlags() *featureflag.RuntimeFlags {
	return m.flags
}

// Tracker exposes the shared equity tracker.
func (m *AgentManager) Tracker() *risk.Tracker {
	return m.tracker
}

// StartAll launches every registered agent.
func (m *AgentManager) StartAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log.Printf("🚀 starting %d agents...", len(m.agents))
	for _, agent := range m.agents {
		agent.Start()
	}
}

// StopAll shuts every agent down, waiting for in-flight work.
func (m *AgentManager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log.Println("⏹  stopping all agents...")
	for _, agent := range m.agents {
		agent.Stop()
	}
}
