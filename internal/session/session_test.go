package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	dials     int
	closes    int

	// dialErrs[n] is returned for the n-th dial (0-based); dials past the
	// end succeed.
	dialErrs []error
	// onDialed fires the handshake callbacks after a successful dial.
	onDialed func()
}

func (f *fakeTransport) Dial(ctx context.Context, host string, port, clientID int) error {
	f.mu.Lock()
	n := f.dials
	f.dials++
	var err error
	if n < len(f.dialErrs) {
		err = f.dialErrs[n]
	}
	if err == nil {
		f.connected = true
	}
	onDialed := f.onDialed
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if onDialed != nil {
		onDialed()
	}
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closes++
}

func (f *fakeTransport) RequestCurrentTime(context.Context) error     { return nil }
func (f *fakeTransport) RequestOpenOrders(context.Context) error      { return nil }
func (f *fakeTransport) RequestCompletedOrders(context.Context) error { return nil }
func (f *fakeTransport) RequestExecutions(context.Context) error      { return nil }
func (f *fakeTransport) CancelOrder(context.Context, int) error       { return nil }

func newConnectedSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()

	ft := &fakeTransport{}
	s := New(ft)
	ft.onDialed = func() {
		s.HandleNextValidID(100)
		s.HandleManagedAccounts([]string{"DU123"})
	}

	err := s.Connect(t.Context(), "127.0.0.1", 4002, 7, time.Second)
	require.NoError(t, err)
	return s, ft
}

func TestConnectSuccess(t *testing.T) {
	s, _ := newConnectedSession(t)

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 100, s.NextValidID())
	assert.Equal(t, []string{"DU123"}, s.ManagedAccounts())

	transitions := s.Transitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, StateDisconnected, transitions[0].From)
	assert.Equal(t, StateConnecting, transitions[0].To)
	assert.Equal(t, StateConnecting, transitions[1].From)
	assert.Equal(t, StateConnected, transitions[1].To)
}

func TestConnectDialFailure(t *testing.T) {
	ft := &fakeTransport{dialErrs: []error{errors.New("connection refused")}}
	s := New(ft)

	err := s.Connect(t.Context(), "127.0.0.1", 4002, 7, time.Second)
	require.Error(t, err)
	assert.Equal(t, StateHalting, s.State())
}

func TestConnectHandshakeTimeout(t *testing.T) {
	// Dial succeeds but no handshake frames ever arrive.
	ft := &fakeTransport{}
	s := New(ft)

	err := s.Connect(t.Context(), "127.0.0.1", 4002, 7, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StateHalting, s.State())
	assert.Equal(t, 1, ft.closes)
}

func TestMarkDegradedOnlyFromConnected(t *testing.T) {
	s, _ := newConnectedSession(t)

	s.MarkDegraded("heartbeat probe stale")
	assert.Equal(t, StateDegraded, s.State())

	// Repeated degrade is a no-op transition and must not grow the log.
	before := len(s.Transitions())
	s.MarkDegraded("heartbeat probe stale")
	assert.Len(t, s.Transitions(), before)

	disconnected := New(&fakeTransport{})
	disconnected.MarkDegraded("nope")
	assert.Equal(t, StateDisconnected, disconnected.State())
}

func TestTryReconnectSucceedsAfterFailures(t *testing.T) {
	ft := &fakeTransport{dialErrs: []error{errors.New("refused"), errors.New("refused")}}
	s := New(ft)
	ft.onDialed = func() {
		s.HandleNextValidID(200)
		s.HandleManagedAccounts([]string{"DU123"})
	}

	ok := s.TryReconnect(t.Context(), "127.0.0.1", 4002, 7, time.Second, 3, FixedDelay{Interval: time.Millisecond})
	assert.True(t, ok)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 3, ft.dials)
}

func TestTryReconnectExhausted(t *testing.T) {
	ft := &fakeTransport{dialErrs: []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}}
	s := New(ft)

	ok := s.TryReconnect(t.Context(), "127.0.0.1", 4002, 7, time.Second, 3, FixedDelay{Interval: time.Millisecond})
	assert.False(t, ok)
	assert.Equal(t, StateHalting, s.State())
}

func TestTryReconnectGuardRejectsConcurrent(t *testing.T) {
	s := New(&fakeTransport{})
	s.reconnecting.Store(true)

	ok := s.TryReconnect(t.Context(), "127.0.0.1", 4002, 7, time.Second, 3, FixedDelay{Interval: time.Millisecond})
	assert.False(t, ok)
	// The guarded call must not have touched the state machine.
	assert.Equal(t, StateDisconnected, s.State())
}

func TestDisconnectIdempotent(t *testing.T) {
	s, ft := newConnectedSession(t)

	s.Disconnect()
	s.Disconnect()

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, ft.closes)

	transitions := s.Transitions()
	var halting int
	for _, tr := range transitions {
		if tr.To == StateHalting {
			halting++
		}
	}
	assert.Equal(t, 1, halting)
}

func TestLivenessObservation(t *testing.T) {
	s := New(&fakeTransport{})
	assert.True(t, s.LastLiveness().IsZero())

	s.HandleCurrentTime(time.Unix(1700000000, 0).UTC())
	assert.False(t, s.LastLiveness().IsZero())
}

func TestFutureHaltCauseIsDistinguishable(t *testing.T) {
	fut := newFuture[int]()

	ctx, cancel := context.WithCancelCause(t.Context())
	cancel(ErrConnectivityHalt)

	_, err := fut.wait(ctx)
	assert.ErrorIs(t, err, ErrConnectivityHalt)
}

func TestFutureCompletesOnce(t *testing.T) {
	fut := newFuture[int]()
	fut.complete(1)
	fut.complete(2)

	val, err := fut.wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, val)
}
