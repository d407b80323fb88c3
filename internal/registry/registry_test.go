package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndComplete(t *testing.T) {
	r := New()
	deadline := time.Now().UTC().Add(30 * time.Second)

	reqID := 42
	id := r.Register(&reqID, "reqCurrentTime", "heartbeat", deadline)
	require.Equal(t, 1, r.Started())

	record, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "reqCurrentTime", record.Type)
	assert.Equal(t, "heartbeat", record.Origin)
	require.NotNil(t, record.RequestID)
	assert.Equal(t, 42, *record.RequestID)
	assert.Equal(t, StatusStarted, record.Status)
	assert.Nil(t, record.EndedAtUTC)

	r.Complete(id, "server time received")
	require.Equal(t, 0, r.Started())

	record, ok = r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, record.Status)
	assert.NotNil(t, record.EndedAtUTC)
	assert.Equal(t, "server time received", record.Detail)
}

func TestCorrelationIDsNeverReused(t *testing.T) {
	r := New()
	deadline := time.Now().UTC().Add(time.Second)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Register(nil, "reqOpenOrders", "snapshot", deadline)
		if seen[id] {
			t.Fatalf("correlation id %s was reused", id)
		}
		seen[id] = true
	}
}

func TestSettleUnregisteredPanics(t *testing.T) {
	r := New()

	require.Panics(t, func() {
		r.Complete("no-such-id", "late response")
	})
	require.Panics(t, func() {
		r.Timeout("no-such-id", "deadline")
	})
}

func TestRepeatedTerminalOverwrites(t *testing.T) {
	r := New()

	id := r.Register(nil, "reqOpenOrders", "snapshot", time.Now().UTC())
	r.Timeout(id, "deadline elapsed")

	record, _ := r.Lookup(id)
	require.Equal(t, StatusTimedOut, record.Status)

	// A late response after the timeout is recorded as the final word.
	r.Complete(id, "snapshot arrived late")

	record, _ = r.Lookup(id)
	assert.Equal(t, StatusCompleted, record.Status)
	assert.Equal(t, "snapshot arrived late", record.Detail)
}

func TestStatusStrings(t *testing.T) {
	testCases := []struct {
		status   Status
		expected string
	}{
		{StatusStarted, "Started"},
		{StatusCompleted, "Completed"},
		{StatusTimedOut, "TimedOut"},
		{StatusFailed, "Failed"},
		{StatusCancelled, "Cancelled"},
		{Status(99), "Unknown"},
	}

	for _, tc := range testCases {
		if tc.status.String() != tc.expected {
			t.Fatalf("status string mismatch! should be %s but got %s", tc.expected, tc.status.String())
		}
	}
}

func TestSnapshotOrderingAndCounts(t *testing.T) {
	r := New()
	deadline := time.Now().UTC().Add(time.Minute)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, r.Register(nil, fmt.Sprintf("op-%d", i), "test", deadline))
	}
	r.Fail(ids[2], "blocking error 502")
	r.Cancel(ids[4], "shutdown")

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 5)
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i].StartedAtUTC.Before(snapshot[i-1].StartedAtUTC) {
			t.Fatalf("snapshot out of order at %d", i)
		}
	}

	assert.Equal(t, 1, r.CountByStatus(StatusFailed))
	assert.Equal(t, 1, r.CountByStatus(StatusCancelled))
	assert.Equal(t, 3, r.CountByStatus(StatusStarted))

	lines := r.Describe()
	require.Len(t, lines, 5)
	assert.Contains(t, lines[2], "status=Failed")
}

func TestConcurrentRegisterAndSettle(t *testing.T) {
	r := New()
	deadline := time.Now().UTC().Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := r.Register(nil, fmt.Sprintf("op-%d", n), "test", deadline)
			if n%2 == 0 {
				r.Complete(id, "done")
			} else {
				r.Fail(id, "error")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Started())
	assert.Len(t, r.Snapshot(), 50)
}
