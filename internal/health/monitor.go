// Package health watches LLM providers and raises alerts on state changes.
package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/provider"
	"github.com/vthunder/moments/internal/types"
)

// pingTimeout bounds a single provider probe so one hung request cannot
// stall the whole poll cycle.
const pingTimeout = 10 * time.Second

// AlertFunc receives an alert on every provider state transition worth
// telling someone about. Sinks may block on network calls.
type AlertFunc func(types.Alert)

// Monitor pings registered providers on an interval and tracks their state:
// healthy, degraded (failing but under the threshold), down. When the
// primary provider goes down it flips the bound failover so request traffic
// stops hitting it, and restores it after enough consecutive successes.
type Monitor struct {
	mu sync.Mutex

	interval          time.Duration
	failureThreshold  int // consecutive failures -> down
	recoveryThreshold int // consecutive successes -> healthy (from down)

	targets  map[string]*targetState
	failover *provider.Failover
	sinks    []AlertFunc
	started  time.Time

	stopChan chan struct{}
	running  bool
}

type targetState struct {
	name        string
	client      provider.Client
	primary     bool
	state       types.ProviderState
	failures    int
	successes   int
	lastChecked time.Time
	lastError   string
	lastLatency time.Duration
}

// NewMonitor creates a monitor from health config
func NewMonitor(cfg config.HealthConfig) *Monitor {
	return &Monitor{
		interval:          cfg.Interval(),
		failureThreshold:  cfg.FailureThreshold,
		recoveryThreshold: cfg.RecoveryThreshold,
		targets:           make(map[string]*targetState),
		started:           time.Now(),
		stopChan:          make(chan struct{}),
	}
}

// Watch registers a provider for monitoring. The primary flag marks the
// provider whose down/up transitions drive the bound failover.
func (m *Monitor) Watch(name string, client provider.Client, primary bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = &targetState{
		name:    name,
		client:  client,
		primary: primary,
		state:   types.ProviderUnknown,
	}
}

// BindFailover connects the monitor to the failover it should flip when the
// primary provider goes down or recovers.
func (m *Monitor) BindFailover(f *provider.Failover) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failover = f
}

// OnAlert adds an alert sink
func (m *Monitor) OnAlert(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, fn)
}

// Start begins the poll loop
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	go m.watchLoop()
	logging.Info("health", "Monitor started (interval=%v, down after %d failures, recover after %d successes)",
		m.interval, m.failureThreshold, m.recoveryThreshold)
}

// Stop stops the poll loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		close(m.stopChan)
		m.running = false
	}
}

func (m *Monitor) watchLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First check right away so status is populated before the first tick
	m.CheckNow(context.Background())

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.CheckNow(context.Background())
		}
	}
}

// CheckNow pings every registered provider once and applies state
// transitions. Exposed so callers can force a probe outside the ticker.
func (m *Monitor) CheckNow(ctx context.Context) {
	m.mu.Lock()
	targets := make([]*targetState, 0, len(m.targets))
	for _, ts := range m.targets {
		targets = append(targets, ts)
	}
	m.mu.Unlock()

	for _, ts := range targets {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		start := time.Now()
		err := ts.client.Ping(pingCtx)
		latency := time.Since(start)
		cancel()

		m.apply(ts.name, err, latency)
	}
}

// apply records one probe result and dispatches any resulting alerts.
// Alerts go out after the lock is released because sinks may block.
func (m *Monitor) apply(name string, pingErr error, latency time.Duration) {
	m.mu.Lock()
	ts, ok := m.targets[name]
	if !ok {
		m.mu.Unlock()
		return
	}

	prev := ts.state
	now := time.Now()
	ts.lastChecked = now
	ts.lastLatency = latency

	if pingErr != nil {
		ts.failures++
		ts.successes = 0
		ts.lastError = pingErr.Error()
		if ts.failures >= m.failureThreshold {
			ts.state = types.ProviderDown
		} else {
			ts.state = types.ProviderDegraded
		}
	} else {
		ts.successes++
		ts.failures = 0
		ts.lastError = ""
		if ts.state == types.ProviderDown {
			if ts.successes >= m.recoveryThreshold {
				ts.state = types.ProviderHealthy
			}
		} else {
			ts.state = types.ProviderHealthy
		}
	}

	var alerts []types.Alert
	if ts.state != prev {
		logging.Info("health", "%s: %s -> %s (failures=%d, successes=%d)",
			ts.name, prev, ts.state, ts.failures, ts.successes)
		alerts = m.transition(ts, prev, now)
	}
	sinks := m.sinks
	m.mu.Unlock()

	for _, a := range alerts {
		for _, fn := range sinks {
			fn(a)
		}
	}
}

// transition handles a state change, flipping the failover for the primary
// provider and building the alerts to dispatch. Caller holds the lock.
func (m *Monitor) transition(ts *targetState, prev types.ProviderState, now time.Time) []types.Alert {
	var alerts []types.Alert

	switch ts.state {
	case types.ProviderDown:
		if ts.primary && m.failover != nil {
			m.failover.SetPrimaryAvailable(false)
		}
		alerts = append(alerts, types.Alert{
			Level:     types.AlertCritical,
			Provider:  ts.name,
			Message:   fmt.Sprintf("Provider %s is down after %d consecutive failed checks: %s", ts.name, ts.failures, ts.lastError),
			Timestamp: now,
		})

	case types.ProviderDegraded:
		alerts = append(alerts, types.Alert{
			Level:     types.AlertWarning,
			Provider:  ts.name,
			Message:   fmt.Sprintf("Provider %s failed a health check (%d of %d before down): %s", ts.name, ts.failures, m.failureThreshold, ts.lastError),
			Timestamp: now,
		})

	case types.ProviderHealthy:
		if prev == types.ProviderDown {
			if ts.primary && m.failover != nil {
				m.failover.SetPrimaryAvailable(true)
			}
			alerts = append(alerts, types.Alert{
				Level:     types.AlertRecovery,
				Provider:  ts.name,
				Message:   fmt.Sprintf("Provider %s recovered after %d consecutive successful checks", ts.name, ts.successes),
				Timestamp: now,
			})
		}
	}

	return alerts
}

// Statuses returns a snapshot of every watched provider, sorted by name
func (m *Monitor) Statuses() []types.ProviderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.ProviderStatus, 0, len(m.targets))
	for _, ts := range m.targets {
		out = append(out, types.ProviderStatus{
			Name:        ts.name,
			State:       ts.state,
			Failures:    ts.failures,
			Successes:   ts.successes,
			LastChecked: ts.lastChecked,
			LastError:   ts.lastError,
			LastLatency: ts.lastLatency,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall returns the worst state across watched providers
func (m *Monitor) Overall() types.ProviderState {
	m.mu.Lock()
	defer m.mu.Unlock()

	overall := types.ProviderHealthy
	hasUnknown := false
	for _, ts := range m.targets {
		switch ts.state {
		case types.ProviderDown:
			return types.ProviderDown
		case types.ProviderDegraded:
			overall = types.ProviderDegraded
		case types.ProviderUnknown:
			hasUnknown = true
		}
	}
	if overall == types.ProviderHealthy && hasUnknown {
		return types.ProviderUnknown
	}
	if len(m.targets) == 0 {
		return types.ProviderUnknown
	}
	return overall
}

// Snapshot is a point-in-time view of process and provider health
type Snapshot struct {
	CPUPercent    float64                `json:"cpu_percent"`
	MemoryPercent float64                `json:"memory_percent"`
	ProcessRSS    uint64                 `json:"process_rss_bytes"`
	Goroutines    int                    `json:"goroutines"`
	Uptime        string                 `json:"uptime"`
	Providers     []types.ProviderStatus `json:"providers"`
}

// Snap collects system metrics plus provider statuses. Metric errors are
// non-fatal; the affected field is left zero.
func (m *Monitor) Snap() Snapshot {
	snap := Snapshot{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(m.started).Round(time.Second).String(),
		Providers:  m.Statuses(),
	}

	if percs, err := cpu.Percent(0, false); err == nil && len(percs) > 0 {
		snap.CPUPercent = percs[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			snap.ProcessRSS = info.RSS
		}
	}

	return snap
}
