package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked request.
type Status uint16

const (
	// StatusStarted marks a request still awaiting its terminal event.
	StatusStarted Status = iota
	// StatusCompleted marks a request that received its expected response.
	StatusCompleted
	// StatusTimedOut marks a request whose deadline elapsed first.
	StatusTimedOut
	// StatusFailed marks a request terminated by a blocking error.
	StatusFailed
	// StatusCancelled marks a request abandoned by the caller.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "Started"
	case StatusCompleted:
		return "Completed"
	case StatusTimedOut:
		return "TimedOut"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status ends the request's lifecycle.
func (s Status) Terminal() bool {
	return s != StatusStarted
}

// Record is one tracked in-flight request.
type Record struct {
	CorrelationID string
	RequestID     *int
	Type          string
	Origin        string
	StartedAtUTC  time.Time
	DeadlineUTC   time.Time
	EndedAtUTC    *time.Time
	Status        Status
	Detail        string
}

// Elapsed returns the wall duration from start to completion, or to now for
// a still-started record.
func (r Record) Elapsed() time.Duration {
	if r.EndedAtUTC != nil {
		return r.EndedAtUTC.Sub(r.StartedAtUTC)
	}
	return time.Since(r.StartedAtUTC)
}

// Registry tracks every in-flight request by correlation id so that timeouts,
// failures, and completions can always be attributed to the operation that
// produced them. Terminal transitions on an unregistered id are a programming
// fault, not a runtime condition, and panic.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Register records a new started request and returns a fresh correlation id.
// requestID is the protocol-level request id when the wire call carries one,
// nil otherwise.
func (r *Registry) Register(requestID *int, reqType, origin string, deadlineUTC time.Time) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[id] = &Record{
		CorrelationID: id,
		RequestID:     requestID,
		Type:          reqType,
		Origin:        origin,
		StartedAtUTC:  r.now().UTC(),
		DeadlineUTC:   deadlineUTC,
		Status:        StatusStarted,
	}
	return id
}

// Complete marks the request as having received its expected response.
func (r *Registry) Complete(id, detail string) {
	r.settle(id, StatusCompleted, detail)
}

// Timeout marks the request as expired before its response arrived.
func (r *Registry) Timeout(id, detail string) {
	r.settle(id, StatusTimedOut, detail)
}

// Fail marks the request as terminated by a blocking error.
func (r *Registry) Fail(id, detail string) {
	r.settle(id, StatusFailed, detail)
}

// Cancel marks the request as abandoned by the caller.
func (r *Registry) Cancel(id, detail string) {
	r.settle(id, StatusCancelled, detail)
}

// settle applies a terminal status. Repeated terminal transitions overwrite
// the prior one; late responses after a timeout are expected on this wire
// protocol and the last word wins for the audit trail.
func (r *Registry) settle(id string, status Status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		panic(fmt.Sprintf("registry: settle %s on unregistered correlation id %s", status, id))
	}
	ended := r.now().UTC()
	record.EndedAtUTC = &ended
	record.Status = status
	record.Detail = detail
}

// Started returns the number of requests still awaiting a terminal status.
func (r *Registry) Started() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, record := range r.records {
		if !record.Status.Terminal() {
			count++
		}
	}
	return count
}

// CountByStatus returns how many records currently hold the given status.
func (r *Registry) CountByStatus(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, record := range r.records {
		if record.Status == status {
			count++
		}
	}
	return count
}

// Lookup returns a copy of the record for the given correlation id.
func (r *Registry) Lookup(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// Snapshot returns copies of all records ordered by start time, then by
// correlation id for records registered within the same clock tick.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		snapshot = append(snapshot, *record)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if !snapshot[i].StartedAtUTC.Equal(snapshot[j].StartedAtUTC) {
			return snapshot[i].StartedAtUTC.Before(snapshot[j].StartedAtUTC)
		}
		return snapshot[i].CorrelationID < snapshot[j].CorrelationID
	})
	return snapshot
}

// Describe renders a one-line summary per record for shutdown logging.
func (r *Registry) Describe() []string {
	snapshot := r.Snapshot()
	lines := make([]string, 0, len(snapshot))
	for _, record := range snapshot {
		requestID := "-"
		if record.RequestID != nil {
			requestID = fmt.Sprintf("%d", *record.RequestID)
		}
		lines = append(lines, fmt.Sprintf("%s reqId=%s type=%s origin=%s status=%s elapsed=%s detail=%q",
			record.CorrelationID, requestID, record.Type, record.Origin,
			record.Status, record.Elapsed().Round(time.Millisecond), record.Detail))
	}
	return lines
}
