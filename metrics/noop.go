//go:build !metrics

package metrics

import "time"

const (
	BackendUnknown  = "unknown"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

func ObserveSizingFraction(float64)                     {}
func ObserveRiskDrawdown(string, float64)               {}
func IncValidationRejections(string)                    {}
func IncValidationWarnings(string)                      {}
func AddCamouflageResamples(float64)                    {}
func IncCamouflageFallbacks()                           {}
func IncPositionsOpened(string)                         {}
func IncPositionsClosed(string, string)                 {}
func SetOpenPositions(string, int)                      {}
func IncTrailingStopRatchets(string)                    {}
func ObserveMonitorCycleLatency(string, time.Duration)  {}
func IncPriceFeedFailures(string)                       {}
func IncExecutionFailures(string)                       {}
func IncPersistenceAttempts(string)                     {}
func IncPersistenceFailures(string)                     {}
func ObservePersistLatency(string, time.Duration)       {}
