package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/vthunder/moments/internal/logging"
)

// Failover routes completions to the primary provider until it accumulates
// enough consecutive failures, then shifts traffic to the fallback. The
// health monitor restores the primary by calling SetPrimaryAvailable once
// its pings recover; failover never probes a down primary on its own.
type Failover struct {
	primary  Client
	fallback Client

	mu          sync.Mutex
	failures    int
	threshold   int
	primaryDown bool
	active      string // provider that served the last completion
}

// NewFailover wraps a primary and optional fallback client. threshold is the
// consecutive-failure count that marks the primary down.
func NewFailover(primary, fallback Client, threshold int) *Failover {
	if threshold <= 0 {
		threshold = 3
	}
	return &Failover{
		primary:   primary,
		fallback:  fallback,
		threshold: threshold,
		active:    primary.Name(),
	}
}

// Name implements Client
func (f *Failover) Name() string { return "failover" }

// Active returns the provider that served the most recent completion
func (f *Failover) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// PrimaryAvailable reports whether the primary is currently taking traffic
func (f *Failover) PrimaryAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.primaryDown
}

// SetPrimaryAvailable is called by the health monitor on state transitions
func (f *Failover) SetPrimaryAvailable(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if up && f.primaryDown {
		logging.Info("provider", "primary %s restored by health monitor", f.primary.Name())
		f.failures = 0
	}
	if !up && !f.primaryDown {
		logging.Warn("provider", "primary %s marked down by health monitor", f.primary.Name())
	}
	f.primaryDown = !up
}

// Complete implements Client with failover semantics
func (f *Failover) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	usePrimary := !f.primaryDown
	f.mu.Unlock()

	if usePrimary {
		out, err := f.primary.Complete(ctx, system, prompt)
		if err == nil {
			f.record(f.primary.Name(), true)
			return out, nil
		}
		// Context cancellation is the caller's doing, not provider health
		if ctx.Err() != nil {
			return "", err
		}
		f.record(f.primary.Name(), false)
		if f.fallback == nil {
			return "", err
		}
		logging.Warn("provider", "primary %s failed, trying %s: %v", f.primary.Name(), f.fallback.Name(), err)
	}

	if f.fallback == nil {
		return "", fmt.Errorf("primary %s is down and no fallback is configured", f.primary.Name())
	}

	out, err := f.fallback.Complete(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("fallback %s failed: %w", f.fallback.Name(), err)
	}
	f.record(f.fallback.Name(), true)
	return out, nil
}

// Ping implements Client against whichever provider would take traffic
func (f *Failover) Ping(ctx context.Context) error {
	f.mu.Lock()
	down := f.primaryDown
	f.mu.Unlock()
	if !down {
		return f.primary.Ping(ctx)
	}
	if f.fallback == nil {
		return fmt.Errorf("primary %s is down and no fallback is configured", f.primary.Name())
	}
	return f.fallback.Ping(ctx)
}

// record updates failure accounting after a completion attempt
func (f *Failover) record(name string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = name

	if name != f.primary.Name() {
		return
	}
	if ok {
		f.failures = 0
		return
	}
	f.failures++
	if f.failures >= f.threshold && !f.primaryDown {
		f.primaryDown = true
		logging.Warn("provider", "primary %s down after %d consecutive failures", name, f.failures)
	}
}
