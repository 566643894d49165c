package resilience

import "time"

// Settings is the user-facing resilience configuration shared by every
// external service. Zero values fall back to the defaults.
type Settings struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	JitterFraction   float64
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Retry returns the retry half of the settings.
func (s Settings) Retry() RetryConfig {
	cfg := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoff > 0 {
		cfg.InitialBackoff = s.InitialBackoff
	}
	if s.MaxBackoff > 0 {
		cfg.MaxBackoff = s.MaxBackoff
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	if s.JitterFraction >= 0 {
		cfg.JitterFraction = s.JitterFraction
	}
	return cfg
}

// Breakers builds a breaker registry from the circuit half of the settings.
// Only transient failures count toward tripping.
func (s Settings) Breakers() *ServiceBreakers {
	cfg := DefaultCircuitBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeout > 0 {
		cfg.ResetTimeout = s.ResetTimeout
	}
	cfg.ShouldTrip = IsTransient
	return NewServiceBreakers(cfg)
}
