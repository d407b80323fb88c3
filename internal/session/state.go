package session

import "time"

// ConnState is the connection-session state.
type ConnState uint16

const (
	// StateDisconnected is the initial state, and the resting state after a
	// clean Disconnect.
	StateDisconnected ConnState = iota
	// StateConnecting covers dial plus handshake milestones.
	StateConnecting
	// StateConnected means the socket is up and both handshake milestones
	// arrived.
	StateConnected
	// StateReconnecting covers an in-flight reconnect sequence.
	StateReconnecting
	// StateDegraded means the socket is open but liveness is suspect.
	StateDegraded
	// StateHalting is the teardown state entered on failure or Disconnect.
	StateHalting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateDegraded:
		return "Degraded"
	case StateHalting:
		return "Halting"
	default:
		return "Unknown"
	}
}

// TransitionRow is one entry of the append-only connection transition log.
type TransitionRow struct {
	TimestampUTC time.Time `json:"timestampUtc"`
	From         ConnState `json:"from"`
	To           ConnState `json:"to"`
	Reason       string    `json:"reason"`
}
