package engine

import "time"

// State is the engine's position in the sync lifecycle.
type State int

const (
	StateIdle State = iota
	StatePulling
	StatePushing
	StateListening
	StateApplying
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StatePushing:
		return "pushing"
	case StateListening:
		return "listening"
	case StateApplying:
		return "applying"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// Result captures one sync cycle. A cycle never returns an error to its
// trigger; the outcome lives here.
type Result struct {
	Success   bool
	Pulled    int
	Pushed    int
	Rejected  int
	Conflicts int
	Skipped   int
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Status is a point-in-time snapshot for status indicators.
type Status struct {
	State      State
	Enabled    bool
	Pending    int
	Checkpoint string
	LastSyncAt time.Time
	// LastError is the error of the most recent cycle, persisted across
	// restarts. It is empty once a cycle succeeds.
	LastError  string
	LastResult *Result
}

// Progress is delivered to the progress callback on every state change
// and at the end of every cycle.
type Progress struct {
	State   State
	Message string
	Result  *Result
}
