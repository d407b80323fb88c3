package obs

import (
	"sync/atomic"
	"time"

	"main/internal/errpolicy"
)

const maxAction = int(errpolicy.ActionHardFail)

// Metrics collects lightweight runtime counters and latency stats.
type Metrics struct {
	framesReceived uint64
	errorsObserved uint64
	actionCounts   [maxAction + 1]uint64
	reconnects     uint64
	degrades       uint64
	queueDrops     uint64
	queueClosed    uint64

	probeLatency   LatencyStats
	requestLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	FramesReceived uint64
	ErrorsObserved uint64
	ActionCounts   map[errpolicy.Action]uint64
	Reconnects     uint64
	Degrades       uint64
	QueueDrops     uint64
	QueueClosed    uint64
	ProbeLatency   LatencySnapshot
	RequestLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncFrame records one inbound gateway frame.
func (m *Metrics) IncFrame() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesReceived, 1)
}

// IncError records one classified protocol error by its base action.
func (m *Metrics) IncError(action errpolicy.Action) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.errorsObserved, 1)
	idx := int(action)
	if idx >= 0 && idx < len(m.actionCounts) {
		atomic.AddUint64(&m.actionCounts[idx], 1)
	}
}

// IncReconnect records one reconnect attempt outcome.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// IncDegrade records one session degrade.
func (m *Metrics) IncDegrade() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.degrades, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveProbe measures liveness probe round-trip latency.
func (m *Metrics) ObserveProbe(d time.Duration) {
	if m == nil {
		return
	}
	m.probeLatency.Observe(d)
}

// ObserveRequest measures request round-trip latency.
func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	actionCounts := make(map[errpolicy.Action]uint64)
	for i := range m.actionCounts {
		if v := atomic.LoadUint64(&m.actionCounts[i]); v > 0 {
			actionCounts[errpolicy.Action(i)] = v
		}
	}
	return Snapshot{
		FramesReceived: atomic.LoadUint64(&m.framesReceived),
		ErrorsObserved: atomic.LoadUint64(&m.errorsObserved),
		ActionCounts:   actionCounts,
		Reconnects:     atomic.LoadUint64(&m.reconnects),
		Degrades:       atomic.LoadUint64(&m.degrades),
		QueueDrops:     atomic.LoadUint64(&m.queueDrops),
		QueueClosed:    atomic.LoadUint64(&m.queueClosed),
		ProbeLatency:   m.probeLatency.Snapshot(),
		RequestLatency: m.requestLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
