package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"main/internal/schema"
)

// State is the canonical order lifecycle state.
type State uint16

const (
	StateUnknown State = iota
	StateAccepted
	StateWorking
	StatePartiallyFilled
	StateFilled
	StateUpdatePending
	StateCancelPending
	StateCanceled
	StateRejected
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "Accepted"
	case StateWorking:
		return "Working"
	case StatePartiallyFilled:
		return "PartiallyFilled"
	case StateFilled:
		return "Filled"
	case StateUpdatePending:
		return "UpdatePending"
	case StateCancelPending:
		return "CancelPending"
	case StateCanceled:
		return "Canceled"
	case StateRejected:
		return "Rejected"
	case StateInactive:
		return "Inactive"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state permits no outgoing transition.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateInactive:
		return true
	default:
		return false
	}
}

// Active reports whether the state counts toward the active-order bucket.
func (s State) Active() bool {
	switch s {
	case StateAccepted, StateWorking, StatePartiallyFilled, StateUpdatePending, StateCancelPending:
		return true
	default:
		return false
	}
}

// NormalizeStatus maps a raw broker status token to a canonical state.
// Matching is case-insensitive and total; anything unrecognized, including
// empty input, is Unknown.
func NormalizeStatus(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDINGSUBMIT", "PRESUBMITTED", "APIPENDING":
		return StateAccepted
	case "SUBMITTED":
		return StateWorking
	case "PARTIALLYFILLED":
		return StatePartiallyFilled
	case "FILLED":
		return StateFilled
	case "PENDINGREPLACE", "PENDINGMODIFY":
		return StateUpdatePending
	case "PENDINGCANCEL":
		return StateCancelPending
	case "CANCELLED", "CANCELED", "APICANCELLED":
		return StateCanceled
	case "REJECTED":
		return StateRejected
	case "INACTIVE":
		return StateInactive
	default:
		return StateUnknown
	}
}

// forwardStates is the adjacency table for non-terminal states. Unknown and
// self-transitions are handled before the table is consulted.
var forwardStates = map[State][]State{
	StateAccepted: {
		StateWorking, StatePartiallyFilled, StateFilled, StateCancelPending,
		StateCanceled, StateUpdatePending, StateInactive, StateRejected,
	},
	StateWorking: {
		StatePartiallyFilled, StateFilled, StateCancelPending,
		StateCanceled, StateUpdatePending, StateInactive, StateRejected,
	},
	StatePartiallyFilled: {
		StatePartiallyFilled, StateFilled, StateCancelPending,
		StateCanceled, StateUpdatePending, StateInactive,
	},
	StateUpdatePending: {
		StateWorking, StatePartiallyFilled, StateFilled, StateCancelPending,
		StateCanceled, StateInactive, StateRejected,
	},
	StateCancelPending: {
		StateCanceled, StateWorking, StatePartiallyFilled, StateFilled, StateInactive,
	},
}

// IsTransitionAllowed reports whether previous -> next is a legal order
// state transition. A first observation (previous Unknown) and repeated
// observations are always legal; terminal states permit nothing.
func IsTransitionAllowed(previous, next State) bool {
	if previous == StateUnknown || previous == next {
		return true
	}
	for _, allowed := range forwardStates[previous] {
		if next == allowed {
			return true
		}
	}
	return false
}

// TransitionRow is one audited order state transition.
type TransitionRow struct {
	TimestampUTC  time.Time
	OrderID       int
	PermID        int
	Symbol        string
	EventType     string
	RawStatus     string
	PreviousState State
	NextState     State
	Allowed       bool
	Reason        string
}

// SummaryRow aggregates one batch of transitions.
type SummaryRow struct {
	TimestampUTC           time.Time
	Mode                   string
	OrdersObserved         int
	TransitionCount        int
	InvalidTransitionCount int
	ActiveOrderCount       int
	TerminalFilledCount    int
	TerminalCanceledCount  int
	TerminalRejectedCount  int
	TerminalInactiveCount  int
}

// BuildTransitions replays a batch of canonical order events in
// (timestamp, orderId) order and audits every state transition. Invalid
// transitions are recorded, never rejected: tracking continues from the new
// observed state. Unknown observations never overwrite the last good state.
func BuildTransitions(events []schema.CanonicalOrderEvent) []TransitionRow {
	sorted := make([]schema.CanonicalOrderEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TimestampUTC.Equal(sorted[j].TimestampUTC) {
			return sorted[i].TimestampUTC.Before(sorted[j].TimestampUTC)
		}
		return sorted[i].OrderID < sorted[j].OrderID
	})

	rows := make([]TransitionRow, 0, len(sorted))
	latestByOrderID := make(map[int]State)

	for _, evt := range sorted {
		previous := latestByOrderID[evt.OrderID]
		next := NormalizeStatus(evt.RawStatus)
		allowed := IsTransitionAllowed(previous, next)
		reason := "ok"
		if !allowed {
			reason = fmt.Sprintf("invalid transition: %s -> %s", previous, next)
		}

		rows = append(rows, TransitionRow{
			TimestampUTC:  evt.TimestampUTC,
			OrderID:       evt.OrderID,
			PermID:        evt.PermID,
			Symbol:        evt.Symbol,
			EventType:     evt.EventType,
			RawStatus:     evt.RawStatus,
			PreviousState: previous,
			NextState:     next,
			Allowed:       allowed,
			Reason:        reason,
		})

		if next != StateUnknown {
			latestByOrderID[evt.OrderID] = next
		}
	}

	return rows
}

// BuildSummary groups transitions by order, takes each order's most recent
// transition, and counts the active and terminal buckets.
func BuildSummary(mode string, transitions []TransitionRow) SummaryRow {
	latestByOrderID := make(map[int]TransitionRow)
	invalid := 0
	for _, row := range transitions {
		if !row.Allowed {
			invalid++
		}
		latest, ok := latestByOrderID[row.OrderID]
		if !ok || row.TimestampUTC.After(latest.TimestampUTC) {
			latestByOrderID[row.OrderID] = row
		}
	}

	summary := SummaryRow{
		TimestampUTC:           time.Now().UTC(),
		Mode:                   mode,
		OrdersObserved:         len(latestByOrderID),
		TransitionCount:        len(transitions),
		InvalidTransitionCount: invalid,
	}

	for _, row := range latestByOrderID {
		switch {
		case row.NextState.Active():
			summary.ActiveOrderCount++
		case row.NextState == StateFilled:
			summary.TerminalFilledCount++
		case row.NextState == StateCanceled:
			summary.TerminalCanceledCount++
		case row.NextState == StateRejected:
			summary.TerminalRejectedCount++
		case row.NextState == StateInactive:
			summary.TerminalInactiveCount++
		}
	}

	return summary
}
