package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"tradeguard/featureflag"
	"tradeguard/metrics"
)

type equityState struct {
	mu            sync.Mutex
	currentEquity float64
	peakEquity    float64
	drawdownPct   float64
	lastUpdated   time.Time
}

func (s *equityState) mutate(useMutex bool, fn func()) Snapshot {
	if useMutex {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn()
	return s.snapshotUnsafe()
}

func (s *equityState) view(useMutex bool) Snapshot {
	if useMutex {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.snapshotUnsafe()
}

func (s *equityState) snapshotUnsafe() Snapshot {
	return Snapshot{
		CurrentEquity: s.currentEquity,
		PeakEquity:    s.peakEquity,
		DrawdownPct:   s.drawdownPct,
		LastUpdated:   s.lastUpdated,
	}
}

// Tracker keeps in-memory equity state for all agents and emits telemetry on
// every change. Realized drawdown from peak equity feeds the validator's
// portfolio snapshot and the dashboards.
type Tracker struct {
	mu      sync.RWMutex
	states  map[string]*equityState
	persist atomic.Value // PersistFunc
	nowFn   atomic.Pointer[func() time.Time]
}

// NewTracker constructs an empty equity tracker.
func NewTracker() *Tracker {
	t := &Tracker{states: make(map[string]*equityState)}
	t.persist.Store(PersistFunc(nil))
	now := time.Now
	t.nowFn.Store(&now)
	return t
}

// SetPersistFunc installs a persistence hook that receives every new snapshot.
func (t *Tracker) SetPersistFunc(fn PersistFunc) {
	t.persist.Store(fn)
}

// SetNowFn overrides the time provider (useful for tests).
func (t *Tracker) SetNowFn(fn func() time.Time) {
	if fn == nil {
		now := time.Now
		t.nowFn.Store(&now)
		return
	}
	t.nowFn.Store(&fn)
}

func (t *Tracker) now() time.Time {
	if ptr := t.nowFn.Load(); ptr != nil {
		return (*ptr)()
	}
	return time.Now()
}

func (t *Tracker) ensureState(agentID string) *equityState {
	t.mu.RLock()
	st, ok := t.states[agentID]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.states[agentID]; ok {
		return st
	}
	st = &equityState{}
	t.states[agentID] = st
	return st
}

func useMutex(flags *featureflag.RuntimeFlags) bool {
	if flags == nil {
		return true
	}
	return flags.MutexProtectionEnabled()
}

// RecordEquity updates the equity snapshot and returns the latest drawdown
// percentage from peak.
func (t *Tracker) RecordEquity(agentID string, equity float64, flags *featureflag.RuntimeFlags) float64 {
	st := t.ensureState(agentID)
	now := t.now()
	snapshot := st.mutate(useMutex(flags), func() {
		st.currentEquity = equity
		if equity > st.peakEquity {
			st.peakEquity = equity
		}
		if st.peakEquity <= 0 {
			st.drawdownPct = 0
		} else {
			drawdown := (st.peakEquity - equity) / st.peakEquity * 100
			if drawdown < 0 {
				drawdown = 0
			}
			st.drawdownPct = drawdown
		}
		st.lastUpdated = now
	})

	metrics.ObserveRiskDrawdown(agentID, snapshot.DrawdownPct)
	t.persistSnapshot(agentID, snapshot, flags)
	return snapshot.DrawdownPct
}

// Snapshot returns a copy of the current equity state for an agent.
func (t *Tracker) Snapshot(agentID string, flags *featureflag.RuntimeFlags) Snapshot {
	return t.ensureState(agentID).view(useMutex(flags))
}

func (t *Tracker) persistSnapshot(agentID string, snapshot Snapshot, flags *featureflag.RuntimeFlags) {
	if flags != nil && !flags.PersistenceEnabled() {
		return
	}

	fn, ok := t.persist.Load().(PersistFunc)
	if !ok || fn == nil {
		return
	}
	start := time.Now()
	metrics.IncPersistenceAttempts(agentID)
	if err := fn(agentID, snapshot); err != nil {
		metrics.IncPersistenceFailures(agentID)
	}
	metrics.ObservePersistLatency(agentID, time.Since(start))
}
