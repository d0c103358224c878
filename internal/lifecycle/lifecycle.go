// Package lifecycle tracks the gateway server process through a PID record
// and decides which processes a command may stop.
package lifecycle

import (
	"fmt"
	"time"
)

// Ownership records how this process came to know about a server
type Ownership int

const (
	// Owned servers were started by this process
	Owned Ownership = iota + 1
	// Observed servers were already running when this process found them
	Observed
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Observed:
		return "observed"
	default:
		return "unknown"
	}
}

// Reason is why a caller is considering terminating a server
type Reason int

const (
	// ReasonShutdown: the inspecting process is exiting
	ReasonShutdown Reason = iota + 1
	// ReasonStop: an operator asked for the server to stop
	ReasonStop
	// ReasonReplace: a new server is taking over the PID record
	ReasonReplace
)

func (r Reason) String() string {
	switch r {
	case ReasonShutdown:
		return "shutdown"
	case ReasonStop:
		return "stop"
	case ReasonReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Record is the content of the PID file
type Record struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`

	Ownership Ownership `json:"-"`
}

// ShouldTerminate decides whether the server described by rec is stopped.
// An observed server is left running when the observer merely exits.
func ShouldTerminate(rec Record, reason Reason) bool {
	if rec.PID <= 0 {
		return false
	}
	switch reason {
	case ReasonShutdown:
		return rec.Ownership == Owned
	case ReasonStop, ReasonReplace:
		return true
	default:
		return false
	}
}

// AlreadyRunningError is returned when a live server holds the PID record
type AlreadyRunningError struct {
	Record Record
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("gateway already running (pid %d, addr %s)", e.Record.PID, e.Record.Addr)
}
