// Package connection owns the lifecycle of a single transport connection as
// an explicit state machine. Consumers observe it by awaiting transitions
// instead of registering callback objects; every asynchronous result is tagged
// with the epoch of the attempt that produced it and dropped once that epoch
// is superseded.
package connection

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

// Config tunes a Manager. Zero values disable the corresponding bound.
type Config struct {
	// Name identifies the manager in logs and metrics.
	Name string
	// ConnectTimeout bounds a single dial.
	ConnectTimeout time.Duration
	// SuspendTimeout fails a connection that stays Suspended this long.
	SuspendTimeout time.Duration
	// OnTransition observes every state change. It runs with the manager's
	// lock held and must not block or call back into the manager.
	OnTransition func(Transition)
}

// Manager holds at most one live connection attempt to the transport.
type Manager struct {
	cfg    Config
	dialer datalayer.Dialer

	// epoch is written under mu but may be read without it.
	epoch *atomic.Uint64

	mu           sync.Mutex
	state        State
	since        time.Time
	link         datalayer.Link
	lastErr      error
	cancelDial   context.CancelFunc
	suspendTimer *time.Timer
	suspendSeq   uint64
	changed      chan struct{}
}

// New creates a Manager in the Disconnected state.
func New(dialer datalayer.Dialer, cfg Config) *Manager {
	if cfg.Name == "" {
		cfg.Name = "datalayer"
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		epoch:   atomic.NewUint64(0),
		state:   Disconnected,
		since:   time.Now().UTC(),
		changed: make(chan struct{}),
	}
}

// Connect starts a connection attempt and returns immediately. It is a no-op
// (returning false) while an attempt is in progress or a connection is live.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	switch m.state {
	case Connecting, Connected, Suspended:
		m.mu.Unlock()
		return false
	}

	epoch := m.epoch.Inc()
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.cfg.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancelDial = cancel
	m.lastErr = nil
	m.transitionLocked(epoch, Connecting, nil)
	m.mu.Unlock()

	go m.dial(ctx, cancel, epoch)
	return true
}

// Disconnect releases the transport handle and returns to Disconnected. It is
// idempotent and safe from any state; callbacks from the superseded attempt
// are discarded afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return
	}

	epoch := m.epoch.Inc()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopSuspendTimerLocked()
	link := m.link
	m.link = nil
	m.transitionLocked(epoch, Disconnected, nil)
	m.mu.Unlock()

	closeLink(m.cfg.Name, link)
}

// Epoch returns the current epoch without taking the manager lock.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}

// IsCurrent reports whether work tagged with epoch may still take effect.
func (m *Manager) IsCurrent(epoch uint64) bool {
	return epoch != 0 && m.epoch.Load() == epoch
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot suitable for status endpoints.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State: m.state,
		Name:  m.state.String(),
		Epoch: m.epoch.Load(),
		Since: m.since,
	}
	if m.lastErr != nil {
		st.LastErr = m.lastErr.Error()
	}
	return st
}

// Changed returns a channel that is closed at the next transition.
func (m *Manager) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Current returns the live session, or ErrNotConnected unless the state is Connected.
func (m *Manager) Current() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.link == nil {
		return Session{}, fmt.Errorf("%w (state %s)", ErrNotConnected, m.state)
	}
	return Session{Epoch: m.epoch.Load(), Link: m.link}, nil
}

// AwaitReady blocks until the manager is Connected and returns the session.
// If the latest attempt failed it returns that *Failure without waiting, so
// the caller can apply its own retry policy.
func (m *Manager) AwaitReady(ctx context.Context) (Session, error) {
	for {
		m.mu.Lock()
		switch m.state {
		case Connected:
			s := Session{Epoch: m.epoch.Load(), Link: m.link}
			m.mu.Unlock()
			return s, nil
		case Failed:
			err := m.lastErr
			m.mu.Unlock()
			return Session{}, err
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-ch:
		}
	}
}

// AwaitEnd blocks while s is the live session (Connected or Suspended in the
// same epoch) and returns ErrSessionEnded once it is not.
func (m *Manager) AwaitEnd(ctx context.Context, s Session) error {
	for {
		m.mu.Lock()
		live := m.epoch.Load() == s.Epoch && (m.state == Connected || m.state == Suspended)
		ch := m.changed
		m.mu.Unlock()
		if !live {
			return ErrSessionEnded
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64) {
	defer cancel()

	hooks := datalayer.Hooks{
		Suspended: func(reason error) { m.onSuspended(epoch, reason) },
		Resumed:   func() { m.onResumed(epoch) },
		Failed:    func(reason error) { m.onFailed(epoch, reason) },
	}

	link, err := safeDial(ctx, m.dialer, hooks)

	m.mu.Lock()
	if m.epoch.Load() != epoch || m.state != Connecting {
		// Superseded by Disconnect or failed through a hook meanwhile.
		m.mu.Unlock()
		closeLink(m.cfg.Name, link)
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.lastErr = &Failure{Epoch: epoch, Err: err}
		m.transitionLocked(epoch, Failed, m.lastErr)
		m.mu.Unlock()
		closeLink(m.cfg.Name, link)
		return
	}
	m.link = link
	m.transitionLocked(epoch, Connected, nil)
	m.mu.Unlock()
}

func (m *Manager) onSuspended(epoch uint64, reason error) {
	if reason == nil {
		reason = ErrSuspended
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch.Load() != epoch || m.state != Connected {
		return
	}
	m.transitionLocked(epoch, Suspended, reason)

	if m.cfg.SuspendTimeout > 0 {
		m.suspendSeq++
		seq := m.suspendSeq
		m.suspendTimer = time.AfterFunc(m.cfg.SuspendTimeout, func() {
			m.mu.Lock()
			var link datalayer.Link
			if m.suspendSeq == seq {
				link = m.failLocked(epoch, ErrSuspendTimeout)
			}
			m.mu.Unlock()
			closeLink(m.cfg.Name, link)
		})
	}
}

func (m *Manager) onResumed(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch.Load() != epoch || m.state != Suspended {
		return
	}
	m.stopSuspendTimerLocked()
	m.transitionLocked(epoch, Connected, nil)
}

func (m *Manager) onFailed(epoch uint64, reason error) {
	m.mu.Lock()
	link := m.failLocked(epoch, reason)
	m.mu.Unlock()

	closeLink(m.cfg.Name, link)
}

// failLocked moves a live attempt of epoch to Failed and hands back the link
// for the caller to close outside the lock.
func (m *Manager) failLocked(epoch uint64, reason error) datalayer.Link {
	if m.epoch.Load() != epoch {
		return nil
	}
	switch m.state {
	case Connecting, Connected, Suspended:
	default:
		return nil
	}

	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.stopSuspendTimerLocked()
	link := m.link
	m.link = nil
	m.lastErr = &Failure{Epoch: epoch, Err: reason}
	m.transitionLocked(epoch, Failed, m.lastErr)
	return link
}

func (m *Manager) stopSuspendTimerLocked() {
	m.suspendSeq++
	if m.suspendTimer != nil {
		m.suspendTimer.Stop()
		m.suspendTimer = nil
	}
}

func (m *Manager) transitionLocked(epoch uint64, to State, reason error) {
	from := m.state
	m.state = to
	m.since = time.Now().UTC()

	close(m.changed)
	m.changed = make(chan struct{})

	if reason != nil {
		log.Printf("connection[%s]: %s -> %s (epoch %d): %v", m.cfg.Name, from, to, epoch, reason)
	} else {
		log.Printf("connection[%s]: %s -> %s (epoch %d)", m.cfg.Name, from, to, epoch)
	}

	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(Transition{Epoch: epoch, From: from, To: to, Reason: reason, At: m.since})
	}
}

// safeDial turns a panicking driver into an ordinary failure.
func safeDial(ctx context.Context, d datalayer.Dialer, hooks datalayer.Hooks) (link datalayer.Link, err error) {
	defer func() {
		if r := recover(); r != nil {
			link = nil
			err = fmt.Errorf("dial panicked: %v", r)
		}
	}()
	return d.Dial(ctx, hooks)
}

func closeLink(name string, link datalayer.Link) {
	if link == nil {
		return
	}
	if err := link.Close(); err != nil {
		log.Printf("connection[%s]: close link: %v", name, err)
	}
}
