// Package memory implements an in-process data layer. Paired processes in the
// same binary (and the tests) share one Bus; it keeps the latest payload per
// path and replays it to newly registered listeners, which is the delivery
// contract the sync core relies on.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

// Bus is a shared in-process transport.
type Bus struct {
	mu        sync.Mutex
	retained  map[string][]byte
	order     []string
	links     map[*link]struct{}
	dialErr   error
	suspended bool

	puts  *atomic.Int64
	dials *atomic.Int64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		retained: make(map[string][]byte),
		links:    make(map[*link]struct{}),
		puts:     atomic.NewInt64(0),
		dials:    atomic.NewInt64(0),
	}
}

// Dial opens a link. It fails with the error set by FailDials, if any.
func (b *Bus) Dial(ctx context.Context, hooks datalayer.Hooks) (datalayer.Link, error) {
	b.dials.Inc()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	l := &link{bus: b, hooks: hooks, subs: make(map[*subscription]struct{})}
	b.links[l] = struct{}{}
	return l, nil
}

// FailDials makes subsequent dials fail with err. A nil err restores normal dialing.
func (b *Bus) FailDials(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// Suspend simulates a transient outage: every live link is told it is
// suspended and puts fail until Resume.
func (b *Bus) Suspend(reason error) {
	b.mu.Lock()
	b.suspended = true
	links := b.liveLinksLocked()
	b.mu.Unlock()

	for _, l := range links {
		if l.hooks.Suspended != nil {
			l.hooks.Suspended(reason)
		}
	}
}

// Resume ends an outage. Listeners receive a replay of every retained record,
// as a real transport does after reconnecting.
func (b *Bus) Resume() {
	b.mu.Lock()
	b.suspended = false
	links := b.liveLinksLocked()
	if replay := b.replayLocked(); len(replay) > 0 {
		b.enqueueLocked(replay)
	}
	b.mu.Unlock()

	for _, l := range links {
		if l.hooks.Resumed != nil {
			l.hooks.Resumed()
		}
	}
}

// Drop tears down every live link and reports reason through the Failed hook.
func (b *Bus) Drop(reason error) {
	b.mu.Lock()
	links := b.liveLinksLocked()
	for _, l := range links {
		l.closeLocked()
	}
	b.mu.Unlock()

	for _, l := range links {
		if l.hooks.Failed != nil {
			l.hooks.Failed(reason)
		}
	}
}

// Delete removes the record under path and notifies listeners.
func (b *Bus) Delete(path string) {
	b.mu.Lock()
	if _, ok := b.retained[path]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.retained, path)
	for i, p := range b.order {
		if p == path {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.enqueueLocked([]datalayer.Event{{Kind: datalayer.EventDeleted, Path: path}})
	b.mu.Unlock()
}

// Retained returns the latest payload put under path.
func (b *Bus) Retained(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[path]
	return p, ok
}

// Puts reports how many puts the bus accepted.
func (b *Bus) Puts() int64 { return b.puts.Load() }

// Dials reports how many dial attempts were made.
func (b *Bus) Dials() int64 { return b.dials.Load() }

// Links reports how many links are open.
func (b *Bus) Links() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

func (b *Bus) put(ctx context.Context, l *link, path string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if l.closed {
		b.mu.Unlock()
		return datalayer.ErrClosed
	}
	if b.suspended {
		b.mu.Unlock()
		return fmt.Errorf("%w: link suspended", datalayer.ErrUnavailable)
	}
	if _, ok := b.retained[path]; !ok {
		b.order = append(b.order, path)
	}
	b.retained[path] = append([]byte(nil), payload...)
	b.enqueueLocked([]datalayer.Event{{Kind: datalayer.EventChanged, Path: path, Payload: payload}})
	b.mu.Unlock()

	b.puts.Inc()
	return nil
}

func (b *Bus) liveLinksLocked() []*link {
	out := make([]*link, 0, len(b.links))
	for l := range b.links {
		out = append(out, l)
	}
	return out
}

// enqueueLocked hands batch to every subscription while b.mu is held, so
// deliveries follow the order of changes to the retained set.
func (b *Bus) enqueueLocked(batch []datalayer.Event) {
	for l := range b.links {
		for s := range l.subs {
			s.enqueue(batch)
		}
	}
}

func (b *Bus) replayLocked() []datalayer.Event {
	events := make([]datalayer.Event, 0, len(b.order))
	for _, p := range b.order {
		events = append(events, datalayer.Event{Kind: datalayer.EventChanged, Path: p, Payload: b.retained[p]})
	}
	return events
}

type link struct {
	bus    *Bus
	hooks  datalayer.Hooks
	subs   map[*subscription]struct{}
	closed bool
}

func (l *link) Put(ctx context.Context, path string, payload []byte) error {
	return l.bus.put(ctx, l, path, payload)
}

func (l *link) AddListener(fn datalayer.Listener) (func(), error) {
	b := l.bus
	b.mu.Lock()
	if l.closed {
		b.mu.Unlock()
		return nil, datalayer.ErrClosed
	}
	s := newSubscription(fn)
	l.subs[s] = struct{}{}
	if replay := b.replayLocked(); len(replay) > 0 {
		s.enqueue(replay)
	}
	b.mu.Unlock()

	remove := func() {
		b.mu.Lock()
		delete(l.subs, s)
		b.mu.Unlock()
		s.stop()
	}
	return remove, nil
}

func (l *link) Close() error {
	l.bus.mu.Lock()
	l.closeLocked()
	l.bus.mu.Unlock()
	return nil
}

func (l *link) closeLocked() {
	if l.closed {
		return
	}
	l.closed = true
	for s := range l.subs {
		s.stop()
	}
	l.subs = make(map[*subscription]struct{})
	delete(l.bus.links, l)
}
