package resilience

import (
	"time"

	"github.com/moritzWa/deeptable/internal/config"
)

// PolicyFromConfig builds the synthesis retry policy from config values.
// Zero values fall back to DefaultRetryPolicy.
func PolicyFromConfig(cfg config.ResilienceConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	return p
}

// BreakerFromConfig builds the per-provider breaker settings.
func BreakerFromConfig(cfg config.ResilienceConfig) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         time.Duration(cfg.CooldownSecs) * time.Second,
	}
}
