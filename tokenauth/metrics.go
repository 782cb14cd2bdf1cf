package tokenauth

import "time"

// Metrics receives verification telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveKeyFetch(endpoint string, success bool, duration time.Duration)
	ObserveKeyRefresh(reason string)
	ObserveVerification(outcome string, level string, duration time.Duration)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) ObserveKeyFetch(string, bool, time.Duration)       {}
func (NopMetrics) ObserveKeyRefresh(string)                          {}
func (NopMetrics) ObserveVerification(string, string, time.Duration) {}
