package repository

import "time"

// Option applies a configuration option to the MemoryLedger.
type Option func(*MemoryLedger)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryLedger) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
