package session

import (
	"time"

	"github.com/rileyhilliard/dockwatch/internal/errors"
)

// Phase is the connection state of one profile's session.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Failed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of one session.
type State struct {
	ProfileID string
	Phase     Phase
	// Reason is the SSH error kind that caused Failed.
	Reason errors.Kind
	// Err is the last error seen, kept for display.
	Err          error
	LastActivity time.Time
}

// String renders the phase, with the reason when failed.
func (s State) String() string {
	if s.Phase == Failed && s.Reason != "" {
		return s.Phase.String() + "(" + string(s.Reason) + ")"
	}
	return s.Phase.String()
}
