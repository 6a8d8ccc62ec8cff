package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

// State is the lifecycle position of a Manager's transport connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Suspended
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Suspended:
		return "suspended"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned when an operation needs a Connected link.
	ErrNotConnected = errors.New("not connected")
	// ErrSuspended is the reason recorded when a driver suspends without one.
	ErrSuspended = errors.New("connection suspended")
	// ErrSuspendTimeout fails a connection that stayed suspended too long.
	ErrSuspendTimeout = errors.New("connection did not resume in time")
	// ErrSessionEnded is returned by AwaitEnd once a session is no longer current.
	ErrSessionEnded = errors.New("session ended")
)

// Failure is the terminal error of one connection attempt.
// The manager never retries on its own; callers decide.
type Failure struct {
	Epoch uint64
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("connection attempt %d failed: %v", f.Epoch, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Transition describes one state change. Epoch identifies the attempt the
// change belongs to.
type Transition struct {
	Epoch  uint64
	From   State
	To     State
	Reason error
	At     time.Time
}

// Session is a usable connection: the link plus the epoch it belongs to.
// Work done through a session must be dropped once its epoch is superseded.
type Session struct {
	Epoch uint64
	Link  datalayer.Link
}

// Status is a point-in-time view of the manager.
type Status struct {
	State   State     `json:"-"`
	Name    string    `json:"state"`
	Epoch   uint64    `json:"epoch"`
	LastErr string    `json:"lastError,omitempty"`
	Since   time.Time `json:"since"`
}
