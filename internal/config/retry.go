package config

import (
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/foundation/normalization"
	"git.home.luguber.info/inful/assetbuild/internal/retry"
)

var backoffNormalizer = normalization.NewEnumNormalizer("retry backoff", map[string]retry.BackoffMode{
	"fixed":       retry.BackoffFixed,
	"linear":      retry.BackoffLinear,
	"exponential": retry.BackoffExponential,
}, retry.BackoffLinear)

// RetryConfig configures retries of transient remote failures.
type RetryConfig struct {
	MaxRetries   *int   `yaml:"max_retries,omitempty"`
	Backoff      string `yaml:"backoff,omitempty"`
	InitialDelay string `yaml:"initial_delay,omitempty"`
	MaxDelay     string `yaml:"max_delay,omitempty"`
}

func (r *RetryConfig) applyDefaults() {
	def := retry.DefaultPolicy()
	if r.MaxRetries == nil {
		n := def.MaxRetries
		r.MaxRetries = &n
	}
	if r.Backoff == "" {
		r.Backoff = string(def.Mode)
	}
	if r.InitialDelay == "" {
		r.InitialDelay = def.Initial.String()
	}
	if r.MaxDelay == "" {
		r.MaxDelay = def.Max.String()
	}
}

// Policy converts the configuration into a retry policy. Invalid fields fall back to
// the defaults; Validate reports them.
func (r RetryConfig) Policy() retry.Policy {
	initial, _ := time.ParseDuration(r.InitialDelay)
	maxDelay, _ := time.ParseDuration(r.MaxDelay)
	maxRetries := -1
	if r.MaxRetries != nil {
		maxRetries = *r.MaxRetries
	}
	return retry.NewPolicy(backoffNormalizer.Normalize(r.Backoff), initial, maxDelay, maxRetries)
}
