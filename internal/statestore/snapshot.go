package statestore

import (
	"time"

	"main/internal/schema"
	"main/internal/session"
)

// SchemaVersion is bumped whenever RuntimeSnapshot changes shape. A stored
// snapshot with a different version is ignored on load, without quarantine.
const SchemaVersion = 1

// LifecycleStage is the coarse run stage recorded alongside the connection
// state.
type LifecycleStage uint16

const (
	StageStartup LifecycleStage = iota
	StageSteadyState
	StageShutdown
	StageHalted
)

func (s LifecycleStage) String() string {
	switch s {
	case StageStartup:
		return "Startup"
	case StageSteadyState:
		return "SteadyState"
	case StageShutdown:
		return "Shutdown"
	case StageHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// StageTransition is one entry of the run-stage history.
type StageTransition struct {
	TimestampUTC time.Time      `json:"timestampUtc"`
	From         LifecycleStage `json:"from"`
	To           LifecycleStage `json:"to"`
	Reason       string         `json:"reason"`
}

// RequestCounters summarizes the request registry at checkpoint time.
type RequestCounters struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
	TimedOut  int `json:"timedOut"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// ErrorCounters summarizes classified protocol errors at checkpoint time.
type ErrorCounters struct {
	Observed int `json:"observed"`
	Blocking int `json:"blocking"`
}

// RuntimeSnapshot is the persisted checkpoint document.
type RuntimeSnapshot struct {
	SchemaVersion int       `json:"schemaVersion"`
	CheckpointUTC time.Time `json:"checkpointUtc"`

	Mode     schema.RunMode `json:"mode"`
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	ClientID int            `json:"clientId"`
	Account  string         `json:"account"`

	LastConnState   session.ConnState       `json:"lastConnState"`
	ConnTransitions []session.TransitionRow `json:"connTransitions"`

	Stage            LifecycleStage    `json:"stage"`
	StageTransitions []StageTransition `json:"stageTransitions"`

	Requests RequestCounters `json:"requests"`
	Errors   ErrorCounters   `json:"errors"`

	ConnectivityHaltTriggered bool `json:"connectivityHaltTriggered"`
	ReconciliationGateFailed  bool `json:"reconciliationGateFailed"`

	ExitCode int `json:"exitCode"`
}
