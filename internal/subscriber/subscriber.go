// Package subscriber consumes weather records from the data layer on a
// companion device. A listener is registered for each Connected epoch and
// removed when that epoch ends; decoded updates are handed to the render
// loop and never applied on the receiving goroutine.
package subscriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/abhinavp13/Ubiquitous/internal/connection"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
	"github.com/abhinavp13/Ubiquitous/internal/render"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// Sink is the presentation side of the hand-off; *render.Loop implements it.
// The guard is evaluated on the presentation side, so work from an epoch
// that ended while queued is dropped there.
type Sink interface {
	Apply(ctx context.Context, guard render.Guard, c render.Candidate) error
	Fail(ctx context.Context, guard render.Guard, reason error) error
}

// Connection is the part of connection.Manager the subscriber needs.
type Connection interface {
	AwaitReady(ctx context.Context) (connection.Session, error)
	AwaitEnd(ctx context.Context, s connection.Session) error
	Changed() <-chan struct{}
	State() connection.State
	IsCurrent(epoch uint64) bool
}

// Recorder receives event outcomes; *metrics.Collector implements it.
type Recorder interface {
	RecordEvent(consumer, outcome string)
	RecordUnresolved(consumer, field string)
}

// Config names the consumer and the path it follows.
type Config struct {
	Name string
	Path string
}

// Subscriber follows one path for one consumer.
type Subscriber struct {
	conn     Connection
	resolver weather.Resolver
	sink     Sink
	cfg      Config
	metrics  Recorder

	mu          sync.Mutex
	lastPayload []byte
}

// New creates a Subscriber. metrics may be nil.
func New(conn Connection, resolver weather.Resolver, sink Sink, cfg Config, metrics Recorder) *Subscriber {
	if cfg.Path == "" {
		cfg.Path = weather.DefaultPath
	}
	if cfg.Name == "" {
		cfg.Name = "companion"
	}
	return &Subscriber{conn: conn, resolver: resolver, sink: sink, cfg: cfg, metrics: metrics}
}

// Run registers a listener for every Connected epoch until ctx is done. A
// failed connection attempt is reported to the sink as a failed cycle.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		sess, err := s.conn.AwaitReady(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.failed(ctx, err)
			if werr := s.awaitRetry(ctx); werr != nil {
				return werr
			}
			continue
		}

		s.serve(ctx, sess)
	}
}

func (s *Subscriber) failed(ctx context.Context, err error) {
	var failure *connection.Failure
	if !errors.As(err, &failure) {
		return
	}
	s.record("connect_failed")
	s.forget()
	guard := func() bool { return s.conn.IsCurrent(failure.Epoch) }
	if ferr := s.sink.Fail(ctx, guard, err); ferr != nil {
		log.Printf("subscriber[%s]: hand-off: %v", s.cfg.Name, ferr)
	}
}

// awaitRetry blocks while the connection stays Failed.
func (s *Subscriber) awaitRetry(ctx context.Context) error {
	changed := s.conn.Changed()
	if s.conn.State() != connection.Failed {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	}
}

func (s *Subscriber) serve(ctx context.Context, sess connection.Session) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	remove, err := sess.Link.AddListener(func(events []datalayer.Event) {
		s.handle(sessCtx, sess.Epoch, events)
	})
	if err != nil {
		log.Printf("subscriber[%s]: add listener (epoch %d): %v", s.cfg.Name, sess.Epoch, err)
	} else {
		log.Printf("INFO: subscriber[%s]: listening on %s (epoch %d)", s.cfg.Name, s.cfg.Path, sess.Epoch)
		defer remove()
	}

	_ = s.conn.AwaitEnd(ctx, sess)
}

func (s *Subscriber) handle(ctx context.Context, epoch uint64, events []datalayer.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: subscriber[%s]: recovered: %v", s.cfg.Name, r)
		}
	}()

	for _, ev := range events {
		if !s.conn.IsCurrent(epoch) {
			s.record("stale")
			return
		}
		if ev.Path != s.cfg.Path {
			s.record("ignored_path")
			continue
		}

		switch ev.Kind {
		case datalayer.EventChanged:
			s.apply(ctx, epoch, ev.Payload)
		case datalayer.EventDeleted:
			log.Printf("subscriber[%s]: %s deleted; keeping current display", s.cfg.Name, ev.Path)
			s.record("deleted")
		default:
			log.Printf("subscriber[%s]: ignoring %s event on %s", s.cfg.Name, ev.Kind, ev.Path)
			s.record("ignored_kind")
		}
	}
}

func (s *Subscriber) apply(ctx context.Context, epoch uint64, payload []byte) {
	s.mu.Lock()
	dup := s.lastPayload != nil && bytes.Equal(s.lastPayload, payload)
	s.mu.Unlock()
	if dup {
		s.record("duplicate")
		return
	}

	guard := func() bool { return s.conn.IsCurrent(epoch) }

	rec, err := datalayer.UnmarshalRecord(payload)
	if err != nil {
		s.record("decode_error")
		s.forget()
		if ferr := s.sink.Fail(ctx, guard, fmt.Errorf("decode %s: %w", s.cfg.Path, err)); ferr != nil {
			log.Printf("subscriber[%s]: hand-off: %v", s.cfg.Name, ferr)
		}
		return
	}

	cand, unresolved := Decode(weather.FieldsFromRecord(rec), s.resolver)
	for _, name := range unresolved.Names() {
		if s.metrics != nil {
			s.metrics.RecordUnresolved(s.cfg.Name, name)
		}
	}
	if unresolved != 0 {
		log.Printf("DEBUG: subscriber[%s]: unresolved fields %v", s.cfg.Name, unresolved.Names())
	}

	if err := s.sink.Apply(ctx, guard, cand); err != nil {
		log.Printf("subscriber[%s]: hand-off: %v", s.cfg.Name, err)
		return
	}
	if cand.Resolved() == 0 {
		s.forget()
	} else {
		s.mu.Lock()
		s.lastPayload = append(s.lastPayload[:0], payload...)
		s.mu.Unlock()
	}
	s.record("applied")
}

func (s *Subscriber) forget() {
	s.mu.Lock()
	s.lastPayload = nil
	s.mu.Unlock()
}

func (s *Subscriber) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEvent(s.cfg.Name, outcome)
	}
}
