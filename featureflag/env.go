package featureflag

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Environment variables recognized by WithEnvOverrides.
const (
	envTrailingStop    = "ENABLE_TRAILING_STOP"
	envCamouflage      = "ENABLE_CAMOUFLAGE"
	envMutexProtection = "ENABLE_MUTEX_PROTECTION"
	envPersistence     = "ENABLE_PERSISTENCE"
	envRiskEnforcement = "ENABLE_RISK_ENFORCEMENT"
)

// WithEnvOverrides returns a copy of base with any recognized environment
// variables applied on top. Invalid boolean values are logged and ignored so
// a typo cannot silently disable a guard rail.
func WithEnvOverrides(base State) State {
	applyEnvBool(envTrailingStop, &base.EnableTrailingStop)
	applyEnvBool(envCamouflage, &base.EnableCamouflage)
	applyEnvBool(envMutexProtection, &base.EnableMutexProtection)
	applyEnvBool(envPersistence, &base.EnablePersistence)
	applyEnvBool(envRiskEnforcement, &base.EnableRiskEnforcement)
	return base
}

func applyEnvBool(key string, target *bool) {
	value, raw, ok, err := parseEnvBool(key)
	if !ok {
		return
	}
	if err != nil {
		log.Printf("⚠️  ignoring invalid boolean for %s: %q", key, raw)
		return
	}
	*target = value
}

func parseEnvBool(key string) (value bool, raw string, ok bool, err error) {
	raw, present := os.LookupEnv(key)
	if !present {
		return false, "", false, nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, "", false, nil
	}
	value, err = strconv.ParseBool(raw)
	return value, raw, true, err
}
