package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/transport"
)

// ErrConnectivityHalt is the cancellation cause used when reconnect attempts
// are exhausted and the whole run is deliberately stopped. Callers blocked on
// a protocol callback see this instead of a plain deadline error.
var ErrConnectivityHalt = errors.New("session: connectivity halt")

// Session owns the connection lifecycle against one broker gateway. All
// state transitions are serialized and recorded in an append-only log;
// no-op transitions (from == to) are filtered out.
type Session struct {
	transport transport.Transport
	now       func() time.Time

	mu          sync.Mutex
	state       ConnState
	transitions []TransitionRow
	nextValidID int
	accounts    []string

	handshakeMu sync.Mutex
	nextIDFut   *future[int]
	accountsFut *future[[]string]

	reconnecting atomic.Bool
	lastLiveness atomic.Int64
}

func New(t transport.Transport) *Session {
	return &Session{
		transport: t,
		now:       time.Now,
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns a copy of the transition log.
func (s *Session) Transitions() []TransitionRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransitionRow, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// NextValidID returns the order id received during the last handshake.
func (s *Session) NextValidID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextValidID
}

// ManagedAccounts returns the account list received during the last
// handshake.
func (s *Session) ManagedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// HandleNextValidID is the transport callback for the next-valid-id
// handshake milestone. Runs on the reader goroutine; never blocks.
func (s *Session) HandleNextValidID(orderID int) {
	s.mu.Lock()
	s.nextValidID = orderID
	s.mu.Unlock()

	s.handshakeMu.Lock()
	fut := s.nextIDFut
	s.handshakeMu.Unlock()
	if fut != nil {
		fut.complete(orderID)
	}
}

// HandleManagedAccounts is the transport callback for the managed-accounts
// handshake milestone. Runs on the reader goroutine; never blocks.
func (s *Session) HandleManagedAccounts(accounts []string) {
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()

	s.handshakeMu.Lock()
	fut := s.accountsFut
	s.handshakeMu.Unlock()
	if fut != nil {
		fut.complete(accounts)
	}
}

// HandleCurrentTime records a liveness observation. The heartbeat probe
// compares this against its own start time.
func (s *Session) HandleCurrentTime(time.Time) {
	s.lastLiveness.Store(s.now().UTC().UnixNano())
}

// LastLiveness returns when the most recent liveness callback was observed,
// or the zero time if none was.
func (s *Session) LastLiveness() time.Time {
	nanos := s.lastLiveness.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

// Connected reports whether the underlying transport considers the socket
// usable.
func (s *Session) Connected() bool {
	return s.transport.Connected()
}

// Connect dials the gateway and waits for the two handshake milestones, each
// gated by its own sub-timeout. Any failure lands the session in Halting.
func (s *Session) Connect(ctx context.Context, host string, port, clientID int, timeout time.Duration) error {
	s.transition(StateConnecting, fmt.Sprintf("connect %s:%d clientId=%d", host, port, clientID))

	s.handshakeMu.Lock()
	s.nextIDFut = newFuture[int]()
	s.accountsFut = newFuture[[]string]()
	nextIDFut, accountsFut := s.nextIDFut, s.accountsFut
	s.handshakeMu.Unlock()

	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()
	if err := s.transport.Dial(dialCtx, host, port, clientID); err != nil {
		s.transition(StateHalting, "dial failed: "+err.Error())
		return errors.Wrap(err, "connect")
	}

	idCtx, cancelID := context.WithTimeout(ctx, timeout)
	defer cancelID()
	if _, err := nextIDFut.wait(idCtx); err != nil {
		s.transition(StateHalting, "next-valid-id milestone: "+err.Error())
		s.transport.Close()
		return errors.Wrap(err, "await next valid id")
	}

	acctCtx, cancelAcct := context.WithTimeout(ctx, timeout)
	defer cancelAcct()
	if _, err := accountsFut.wait(acctCtx); err != nil {
		s.transition(StateHalting, "managed-accounts milestone: "+err.Error())
		s.transport.Close()
		return errors.Wrap(err, "await managed accounts")
	}

	s.transition(StateConnected, "handshake complete")
	return nil
}

// MarkDegraded flags suspect liveness. The socket stays open; only a
// Connected session degrades.
func (s *Session) MarkDegraded(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return
	}
	s.transitionLocked(StateDegraded, reason)
}

// TryReconnect runs up to maxAttempts sequential reconnect cycles separated
// by the policy's delay. Returns true on the first successful cycle. A
// second TryReconnect while one is in flight returns false immediately;
// reconnect sequences never interleave.
func (s *Session) TryReconnect(ctx context.Context, host string, port, clientID int, timeout time.Duration, maxAttempts int, policy RetryPolicy) bool {
	if !s.reconnecting.CompareAndSwap(false, true) {
		logs.Warn("reconnect already in flight, ignoring trigger")
		return false
	}
	defer s.reconnecting.Store(false)

	s.transition(StateReconnecting, "reconnect start")

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			s.transition(StateHalting, "reconnect cancelled")
			return false
		}

		s.transport.Close()
		if err := s.Connect(ctx, host, port, clientID, timeout); err == nil {
			logs.Infof("reconnect succeeded on attempt %d/%d", attempt, maxAttempts)
			return true
		} else {
			logs.Warnf("reconnect attempt %d/%d failed, err: %+v", attempt, maxAttempts, err)
		}

		if attempt < maxAttempts && !sleepCtx(ctx, policy.Delay(attempt)) {
			s.transition(StateHalting, "reconnect cancelled")
			return false
		}
	}

	s.transition(StateHalting, "reconnect attempts exhausted")
	return false
}

// Disconnect tears the session down. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StateHalting, "disconnect requested")
	s.transitionLocked(StateDisconnected, "disconnected")
	s.mu.Unlock()

	s.transport.Close()
}

func (s *Session) transition(to ConnState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(to, reason)
}

func (s *Session) transitionLocked(to ConnState, reason string) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.transitions = append(s.transitions, TransitionRow{
		TimestampUTC: s.now().UTC(),
		From:         from,
		To:           to,
		Reason:       reason,
	})
	logs.Infof("connection state %s -> %s (%s)", from, to, reason)
}

// sleepCtx waits d or returns false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
