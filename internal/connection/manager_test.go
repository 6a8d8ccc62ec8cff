package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer/memory"
)

// gatedDialer blocks every Dial until release is closed and remembers the
// hooks of each attempt so tests can fire late callbacks.
type gatedDialer struct {
	mu      sync.Mutex
	calls   int
	hooks   []datalayer.Hooks
	links   []*fakeLink
	release chan struct{}
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{release: make(chan struct{})}
}

func (d *gatedDialer) Dial(ctx context.Context, hooks datalayer.Hooks) (datalayer.Link, error) {
	d.mu.Lock()
	d.calls++
	d.hooks = append(d.hooks, hooks)
	d.mu.Unlock()

	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l := &fakeLink{}
	d.mu.Lock()
	d.links = append(d.links, l)
	d.mu.Unlock()
	return l, nil
}

func (d *gatedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *gatedDialer) lastHooks() datalayer.Hooks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooks[len(d.hooks)-1]
}

type fakeLink struct {
	mu     sync.Mutex
	closed bool
}

func (l *fakeLink) Put(context.Context, string, []byte) error { return nil }

func (l *fakeLink) AddListener(datalayer.Listener) (func(), error) { return func() {}, nil }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		ch := m.Changed()
		if m.State() == want {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, have %s", want, m.State())
		}
	}
}

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	m := New(memory.NewBus(), Config{})

	m.Disconnect()
	m.Disconnect()

	if m.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	if m.Epoch() != 0 {
		t.Fatalf("expected epoch to stay 0, got %d", m.Epoch())
	}
}

func TestConnectIsIdempotentWhileInFlight(t *testing.T) {
	d := newGatedDialer()
	m := New(d, Config{})

	if !m.Connect() {
		t.Fatal("first connect should start an attempt")
	}
	if m.Connect() {
		t.Fatal("second connect should be a no-op while connecting")
	}

	close(d.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := m.AwaitReady(ctx)
	if err != nil {
		t.Fatalf("await ready: %v", err)
	}
	if sess.Epoch != 1 {
		t.Fatalf("expected epoch 1, got %d", sess.Epoch)
	}
	if m.Connect() {
		t.Fatal("connect should be a no-op while connected")
	}
	if got := d.Calls(); got != 1 {
		t.Fatalf("expected exactly one dial, got %d", got)
	}
}

func TestFailedAttemptIsTerminalUntilRetried(t *testing.T) {
	bus := memory.NewBus()
	errPerm := errors.New("permission denied")
	bus.FailDials(errPerm)

	var transitions []Transition
	var mu sync.Mutex
	m := New(bus, Config{OnTransition: func(tr Transition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	}})

	m.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.AwaitReady(ctx)

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if !errors.Is(err, errPerm) {
		t.Fatalf("expected failure to wrap the driver reason, got %v", err)
	}
	if m.State() != Failed {
		t.Fatalf("expected failed, got %s", m.State())
	}

	// No automatic retry: the dial count stays at one.
	time.Sleep(20 * time.Millisecond)
	if bus.Dials() != 1 {
		t.Fatalf("expected a single dial, got %d", bus.Dials())
	}

	bus.FailDials(nil)
	if !m.Connect() {
		t.Fatal("connect from failed should start a new attempt")
	}
	if _, err := m.AwaitReady(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Failed, Connecting, Connected}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), transitions)
	}
	for i, s := range want {
		if transitions[i].To != s {
			t.Fatalf("transition %d: expected %s, got %s", i, s, transitions[i].To)
		}
	}
}

func TestSuspendAndResumeKeepsEpoch(t *testing.T) {
	bus := memory.NewBus()
	m := New(bus, Config{})
	m.Connect()
	waitForState(t, m, Connected)
	epoch := m.Epoch()

	bus.Suspend(errors.New("bluetooth out of range"))
	waitForState(t, m, Suspended)

	if _, err := m.Current(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while suspended, got %v", err)
	}

	bus.Resume()
	waitForState(t, m, Connected)

	if m.Epoch() != epoch {
		t.Fatalf("resume must not start a new epoch: %d != %d", m.Epoch(), epoch)
	}
}

func TestSuspendTimeoutFailsConnection(t *testing.T) {
	bus := memory.NewBus()
	m := New(bus, Config{SuspendTimeout: 20 * time.Millisecond})
	m.Connect()
	waitForState(t, m, Connected)

	bus.Suspend(nil)
	waitForState(t, m, Failed)

	if st := m.Status(); st.LastErr == "" {
		t.Fatal("expected last error to be recorded")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := m.AwaitReady(ctx); !errors.Is(err, ErrSuspendTimeout) {
		t.Fatalf("expected ErrSuspendTimeout, got %v", err)
	}
	// The link is closed just after the transition is published.
	deadline := time.Now().Add(time.Second)
	for bus.Links() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected failed link to be closed, %d still open", bus.Links())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisconnectDiscardsLateCallbacks(t *testing.T) {
	d := newGatedDialer()
	close(d.release)

	var count int
	var mu sync.Mutex
	m := New(d, Config{OnTransition: func(Transition) {
		mu.Lock()
		count++
		mu.Unlock()
	}})

	m.Connect()
	waitForState(t, m, Connected)
	hooks := d.lastHooks()

	m.Disconnect()
	mu.Lock()
	before := count
	mu.Unlock()

	hooks.Suspended(errors.New("late"))
	hooks.Resumed()
	hooks.Failed(errors.New("late"))

	if m.State() != Disconnected {
		t.Fatalf("late callbacks changed state to %s", m.State())
	}
	mu.Lock()
	after := count
	mu.Unlock()
	if after != before {
		t.Fatalf("late callbacks produced %d transitions", after-before)
	}
	if !d.links[0].isClosed() {
		t.Fatal("disconnect should close the link")
	}
}

func TestDisconnectWhileDialingClosesLateLink(t *testing.T) {
	d := newGatedDialer()
	m := New(d, Config{})

	m.Connect()
	m.Disconnect()
	if m.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}

	// The cancelled dial returns ctx.Err(); nothing must resurrect the attempt.
	close(d.release)
	time.Sleep(20 * time.Millisecond)
	if m.State() != Disconnected {
		t.Fatalf("superseded dial changed state to %s", m.State())
	}
}

func TestAwaitEndReturnsWhenSessionSuperseded(t *testing.T) {
	bus := memory.NewBus()
	m := New(bus, Config{})
	m.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := m.AwaitReady(ctx)
	if err != nil {
		t.Fatalf("await ready: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.AwaitEnd(ctx, sess) }()

	bus.Suspend(nil)
	waitForState(t, m, Suspended)
	select {
	case err := <-done:
		t.Fatalf("session should survive suspension, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	m.Disconnect()
	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionEnded) {
			t.Fatalf("expected ErrSessionEnded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitEnd did not return after disconnect")
	}
	if m.IsCurrent(sess.Epoch) {
		t.Fatal("superseded epoch reported as current")
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Suspended:    "suspended",
		Failed:       "failed",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: expected %q, got %q", int(s), want, s.String())
		}
	}
}
