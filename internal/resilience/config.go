package resilience

import (
	"time"
)

// RetrySettings carries the retry knobs in their config-file units. Zero
// fields fall back to DefaultRetryConfig, except JitterFraction where an
// explicit 0 disables jitter.
type RetrySettings struct {
	MaxAttempts      int
	InitialBackoffMs int
	MaxBackoffMs     int
	Multiplier       float64
	JitterFraction   float64
}

// BuildRetryConfig layers the settings over DefaultRetryConfig.
func BuildRetryConfig(s RetrySettings) RetryConfig {
	cfg := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	if s.JitterFraction >= 0 {
		cfg.JitterFraction = s.JitterFraction
	}
	return cfg
}

// CircuitSettings carries the circuit-breaker knobs in config-file units.
type CircuitSettings struct {
	FailureThreshold int
	ResetTimeoutSecs int
}

// BuildCircuitConfig layers the settings over DefaultCircuitBreakerConfig.
func BuildCircuitConfig(s CircuitSettings) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(s.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
