package featureflag

import "sync/atomic"

// RuntimeFlags exposes feature toggles that can be flipped without restarting
// the process. Atomic primitives guarantee visibility across goroutines without
// requiring heavyweight locks.
type RuntimeFlags struct {
	trailingStop    atomic.Bool
	camouflage      atomic.Bool
	mutexProtection atomic.Bool
	persistence     atomic.Bool
	riskEnforcement atomic.Bool
}

// State is a materialized snapshot of the current feature flag values.
type State struct {
	EnableTrailingStop    bool `json:"enable_trailing_stop"`
	EnableCamouflage      bool `json:"enable_camouflage"`
	EnableMutexProtection bool `json:"enable_mutex_protection"`
	EnablePersistence     bool `json:"enable_persistence"`
	EnableRiskEnforcement bool `json:"enable_risk_enforcement"`
}

// Update represents a partial mutation to the runtime flags. Nil values mean
// "leave untouched" so callers can update a subset of flags.
type Update struct {
	EnableTrailingStop    *bool `json:"enable_trailing_stop"`
	EnableCamouflage      *bool `json:"enable_camouflage"`
	EnableMutexProtection *bool `json:"enable_mutex_protection"`
	EnablePersistence     *bool `json:"enable_persistence"`
	EnableRiskEnforcement *bool `json:"enable_risk_enforcement"`
}

// DefaultState enables every guard rail. Flags exist so operators can loosen
// behavior deliberately, not so the system starts loose.
func DefaultState() State {
	return State{
		EnableTrailingStop:    true,
		EnableCamouflage:      true,
		EnableMutexProtection: true,
		EnablePersistence:     true,
		EnableRiskEnforcement: true,
	}
}

// NewRuntimeFlags constructs a RuntimeFlags container initialized with the
// provided defaults.
func NewRuntimeFlags(initial State) *RuntimeFlags {
	flags := &RuntimeFlags{}
	flags.SetTrailingStop(initial.EnableTrailingStop)
	flags.SetCamouflage(initial.EnableCamouflage)
	flags.SetMutexProtection(initial.EnableMutexProtection)
	flags.SetPersistence(initial.EnablePersistence)
	flags.SetRiskEnforcement(initial.EnableRiskEnforcement)
	return flags
}

// TrailingStopEnabled reports whether the ledger should ratchet trailing
// stops as prices move favorably.
func (f *RuntimeFlags) TrailingStopEnabled() bool {
	if f == nil {
		return false
	}
	return f.trailingStop.Load()
}

// SetTrailingStop toggles trailing-stop ratcheting.
func (f *RuntimeFlags) SetTrailingStop(enabled bool) {
	if f == nil {
		return
	}
	f.trailingStop.Store(enabled)
}

// CamouflageEnabled reports whether orders should be disguised before
// submission.
func (f *RuntimeFlags) CamouflageEnabled() bool {
	if f == nil {
		return false
	}
	return f.camouflage.Load()
}

// SetCamouflage toggles order camouflage.
func (f *RuntimeFlags) SetCamouflage(enabled bool) {
	if f == nil {
		return
	}
	f.camouflage.Store(enabled)
}

// MutexProtectionEnabled reports whether shared-state mutations should use
// the mutex guard to avoid data races.
func (f *RuntimeFlags) MutexProtectionEnabled() bool {
	if f == nil {
		return true
	}
	return f.mutexProtection.Load()
}

// SetMutexProtection toggles the shared-state mutex usage.
func (f *RuntimeFlags) SetMutexProtection(enabled bool) {
	if f == nil {
		return
	}
	f.mutexProtection.Store(enabled)
}

// PersistenceEnabled reports whether position and risk snapshots should be
// persisted.
func (f *RuntimeFlags) PersistenceEnabled() bool {
	if f == nil {
		return false
	}
	return f.persistence.Load()
}

// SetPersistence toggles snapshot persistence.
func (f *RuntimeFlags) SetPersistence(enabled bool) {
	if f == nil {
		return
	}
	f.persistence.Store(enabled)
}

// RiskEnforcementEnabled reports whether fatal validation results actually
// block trades, as opposed to log-only mode.
func (f *RuntimeFlags) RiskEnforcementEnabled() bool {
	if f == nil {
		return false
	}
	return f.riskEnforcement.Load()
}

// SetRiskEnforcement toggles risk enforcement.
func (f *RuntimeFlags) SetRiskEnforcement(enabled bool) {
	if f == nil {
		return
	}
	f.riskEnforcement.Store(enabled)
}

// Snapshot takes a consistent snapshot of all flags.
func (f *RuntimeFlags) Snapshot() State {
	if f == nil {
		return State{}
	}
	return State{
		EnableTrailingStop:    f.TrailingStopEnabled(),
		EnableCamouflage:      f.CamouflageEnabled(),
		EnableMutexProtection: f.MutexProtectionEnabled(),
		EnablePersistence:     f.PersistenceEnabled(),
		EnableRiskEnforcement: f.RiskEnforcementEnabled(),
	}
}

// Apply atomically updates the flags according to the supplied patch and
// returns the resulting snapshot.
func (f *RuntimeFlags) Apply(update Update) State {
	if f == nil {
		return State{}
	}
	if update.EnableTrailingStop != nil {
		f.SetTrailingStop(*update.EnableTrailingStop)
	}
	if update.EnableCamouflage != nil {
		f.SetCamouflage(*update.EnableCamouflage)
	}
	if update.EnableMutexProtection != nil {
		f.SetMutexProtection(*update.EnableMutexProtection)
	}
	if update.EnablePersistence != nil {
		f.SetPersistence(*update.EnablePersistence)
	}
	if update.EnableRiskEnforcement != nil {
		f.SetRiskEnforcement(*update.EnableRiskEnforcement)
	}
	return f.Snapshot()
}
