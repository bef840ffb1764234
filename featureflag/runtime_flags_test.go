package featureflag

import "testing"

func TestDefaultStateEnablesEverything(t *testing.T) {
	state := DefaultState()
	if !state.EnableTrailingStop || !state.EnableCamouflage || !state.EnableMutexProtection ||
		!state.EnablePersistence || !state.EnableRiskEnforcement {
		t.Fatalf("default state should enable all flags: %+v", state)
	}
}

func TestRuntimeFlagsApplyAndSnapshot(t *testing.T) {
	flags := NewRuntimeFlags(DefaultState())

	flags.SetTrailingStop(false)
	flags.SetCamouflage(false)
	flags.SetMutexProtection(false)
	flags.SetPersistence(false)
	flags.SetRiskEnforcement(false)

	snapshot := flags.Snapshot()
	if snapshot != (State{}) {
		t.Fatalf("snapshot should reflect setter mutations: %+v", snapshot)
	}

	applied := flags.Apply(Update{
		EnableTrailingStop:    ptr(true),
		EnableCamouflage:      ptr(false),
		EnableMutexProtection: ptr(true),
		EnablePersistence:     ptr(true),
		EnableRiskEnforcement: ptr(true),
	})

	if applied.EnableCamouflage {
		t.Fatalf("apply should keep camouflage false when explicitly set")
	}
	if !applied.EnableTrailingStop || !applied.EnableMutexProtection || !applied.EnablePersistence || !applied.EnableRiskEnforcement {
		t.Fatalf("apply should update other flags: %+v", applied)
	}
}

func TestApplyPartialUpdateLeavesOthersUntouched(t *testing.T) {
	flags := NewRuntimeFlags(DefaultState())

	applied := flags.Apply(Update{EnableTrailingStop: ptr(false)})
	if applied.EnableTrailingStop {
		t.Fatalf("trailing stop should be off after update")
	}
	if !applied.EnableCamouflage || !applied.EnableRiskEnforcement {
		t.Fatalf("untouched flags should remain enabled: %+v", applied)
	}
}

func TestRuntimeFlagsNilSafety(t *testing.T) {
	var flags *RuntimeFlags

	if flags.TrailingStopEnabled() || flags.CamouflageEnabled() || flags.PersistenceEnabled() || flags.RiskEnforcementEnabled() {
		t.Fatalf("nil receiver should report false for all optional flags")
	}
	// Mutex protection defaults on for a nil receiver: a missing flag
	// container must never disable the safety lock.
	if !flags.MutexProtectionEnabled() {
		t.Fatalf("nil receiver should keep mutex protection enabled")
	}

	flags.SetTrailingStop(true)
	flags.SetPersistence(true)

	if snapshot := flags.Snapshot(); snapshot != (State{}) {
		t.Fatalf("nil receiver snapshot should be zero value, got %+v", snapshot)
	}
	if applied := flags.Apply(Update{EnablePersistence: ptr(true)}); applied != (State{}) {
		t.Fatalf("nil receiver apply should return zero state, got %+v", applied)
	}
}

func TestWithEnvOverrides(t *testing.T) {
	base := DefaultState()

	t.Setenv("ENABLE_TRAILING_STOP", "false")
	t.Setenv("ENABLE_CAMOUFLAGE", "0")
	t.Setenv("ENABLE_PERSISTENCE", "1")

	applied := WithEnvOverrides(base)
	if applied.EnableTrailingStop {
		t.Fatalf("trailing stop should be disabled via env")
	}
	if applied.EnableCamouflage {
		t.Fatalf("camouflage should be disabled via env")
	}
	if !applied.EnablePersistence || !applied.EnableMutexProtection {
		t.Fatalf("unset and true flags should remain enabled: %+v", applied)
	}
}

func TestWithEnvOverridesIgnoresInvalidBoolean(t *testing.T) {
	t.Setenv("ENABLE_MUTEX_PROTECTION", "maybe")

	applied := WithEnvOverrides(DefaultState())
	if !applied.EnableMutexProtection {
		t.Fatalf("invalid env boolean should leave mutex protection unchanged")
	}
}

func TestParseEnvBoolVariants(t *testing.T) {
	const key = "FEATURE_FLAG_TEST_BOOL"

	if value, raw, ok, err := parseEnvBool(key); value || raw != "" || ok || err != nil {
		t.Fatalf("parseEnvBool should report not set when env missing")
	}

	t.Setenv(key, "   ")
	if value, raw, ok, err := parseEnvBool(key); value || raw != "" || ok || err != nil {
		t.Fatalf("blank env should be ignored: value=%v raw=%q ok=%v err=%v", value, raw, ok, err)
	}

	t.Setenv(key, "true")
	if value, raw, ok, err := parseEnvBool(key); !value || raw != "true" || !ok || err != nil {
		t.Fatalf("expected true parse, got value=%v raw=%q ok=%v err=%v", value, raw, ok, err)
	}

	t.Setenv(key, "nope")
	if value, raw, ok, err := parseEnvBool(key); value || raw != "nope" || !ok || err == nil {
		t.Fatalf("invalid bool should surface error: value=%v raw=%q ok=%v err=%v", value, raw, ok, err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
