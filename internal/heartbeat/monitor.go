package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/errpolicy"
	"main/internal/schema"
)

// Conn is the connection surface the monitor supervises.
type Conn interface {
	Connected() bool
	LastLiveness() time.Time
	MarkDegraded(reason string)
}

// Config wires the monitor to its collaborators. Reconnect wraps the whole
// reconnect sequence (attempts, backoff, serialization guard) and reports
// whether the connection came back.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration

	Mode    schema.RunMode
	Options schema.RuntimeOptions

	Conn        Conn
	DrainErrors func() []schema.APIError
	Probe       func(ctx context.Context) error
	Reconnect   func(ctx context.Context) bool
	// Halt cancels the overall run when reconnect attempts are exhausted.
	Halt func()
}

// Monitor is a cancellable cooperative loop that keeps the connection alive:
// it reacts to connectivity error codes, reconnects a dropped socket, and
// probes liveness via the gateway clock.
type Monitor struct {
	cfg           Config
	haltTriggered atomic.Bool
	degradeCount  atomic.Int64
}

func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &Monitor{cfg: cfg}
}

// HaltTriggered reports whether the monitor gave up and cancelled the run.
func (m *Monitor) HaltTriggered() bool {
	return m.haltTriggered.Load()
}

// DegradeCount returns how many times the monitor degraded the session.
func (m *Monitor) DegradeCount() int64 {
	return m.degradeCount.Load()
}

// Run blocks until ctx is done or reconnect attempts are exhausted.
func (m *Monitor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !m.cycle(ctx) {
			return
		}

		timer := time.NewTimer(m.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle runs one supervision pass. Returns false when the loop must exit.
func (m *Monitor) cycle(ctx context.Context) bool {
	if m.reconnectTriggerObserved() {
		m.degrade("connectivity error code observed")
		return m.reconnect(ctx)
	}

	if !m.cfg.Conn.Connected() {
		logs.Warn("transport reports not connected, reconnecting")
		return m.reconnect(ctx)
	}

	if stale := m.probeStale(ctx); stale {
		m.degrade("heartbeat probe stale")
		return m.reconnect(ctx)
	}

	return true
}

// reconnectTriggerObserved drains protocol errors observed since the last
// pass and reports whether any classified Retry with a connectivity code.
func (m *Monitor) reconnectTriggerObserved() bool {
	trigger := false
	for _, apiErr := range m.cfg.DrainErrors() {
		decision := errpolicy.Evaluate(apiErr, m.cfg.Mode, m.cfg.Options.OptionGreeksAutoFallback)
		if decision.Action != errpolicy.ActionRetry || apiErr.Code == nil {
			continue
		}
		if errpolicy.RetryableCode(*apiErr.Code) {
			logs.Warnf("reconnect trigger %s (%s)", apiErr, decision.Reason)
			trigger = true
		}
	}
	return trigger
}

// probeStale requests the gateway clock and waits ProbeTimeout for a
// liveness observation newer than the probe start.
func (m *Monitor) probeStale(ctx context.Context) bool {
	start := time.Now().UTC()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if err := m.cfg.Probe(probeCtx); err != nil {
		logs.Warnf("liveness probe send failed, err: %+v", err)
		return true
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-probeCtx.Done():
			return m.cfg.Conn.LastLiveness().Before(start)
		case <-ticker.C:
			if !m.cfg.Conn.LastLiveness().Before(start) {
				return false
			}
		}
	}
}

// degrade marks the session degraded at most once per trigger window.
func (m *Monitor) degrade(reason string) {
	m.degradeCount.Add(1)
	m.cfg.Conn.MarkDegraded(reason)
}

func (m *Monitor) reconnect(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if m.cfg.Reconnect(ctx) {
		return true
	}

	m.haltTriggered.Store(true)
	logs.Error("reconnect attempts exhausted, halting run")
	if m.cfg.Halt != nil {
		m.cfg.Halt()
	}
	return false
}
