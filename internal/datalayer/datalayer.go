// Package datalayer defines the pub/sub key/value transport shared by paired
// devices, plus the record codec carried over it. Drivers live in
// sub-packages (memory, mqtt, kafka); the sync core only sees the
// interfaces declared here.
package datalayer

import (
	"context"
	"errors"
)

// EventKind classifies a change notification.
type EventKind int

const (
	// EventChanged covers first arrivals as well as updates of a path.
	EventChanged EventKind = iota + 1
	// EventDeleted reports that the record under a path was removed.
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single change notification. Payload is nil for deletions.
type Event struct {
	Kind    EventKind
	Path    string
	Payload []byte
}

// Listener receives batches of events in transport order. Drivers call it
// from their own goroutines; implementations must not block for long.
type Listener func(events []Event)

// Hooks are invoked by a driver for asynchronous lifecycle changes after a
// successful Dial. Each hook may be called from any goroutine.
type Hooks struct {
	// Suspended reports a transient loss of the link.
	Suspended func(reason error)
	// Resumed reports that a suspended link is usable again.
	Resumed func()
	// Failed reports that the link is gone for good.
	Failed func(reason error)
}

// Dialer opens links to the transport.
type Dialer interface {
	// Dial blocks until the link is ready or the attempt failed.
	Dial(ctx context.Context, hooks Hooks) (Link, error)
}

// Link is a live handle to the transport. It is owned by exactly one
// connection manager.
type Link interface {
	// Put stores payload under path; it blocks until acknowledged.
	Put(ctx context.Context, path string, payload []byte) error
	// AddListener registers l for every path. The returned func removes it
	// and is safe to call more than once.
	AddListener(l Listener) (remove func(), err error)
	// Close releases the link. Further calls are no-ops.
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed link.
	ErrClosed = errors.New("datalayer: link closed")
	// ErrUnavailable is returned when the transport cannot be reached.
	ErrUnavailable = errors.New("datalayer: transport unavailable")
)
