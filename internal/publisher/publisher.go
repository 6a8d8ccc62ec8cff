// Package publisher pushes the primary device's weather snapshot to the
// data layer. Each publish is a single blocking put under the sync path;
// failures come back as values and never escape as panics.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/connection"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

var (
	// ErrNotConnected is returned when no Connected session exists. The
	// transport is not touched.
	ErrNotConnected = connection.ErrNotConnected
	// ErrInvalidSnapshot rejects partial or empty snapshots before any transport call.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrNoSnapshot is returned by PublishLatest when the source has nothing to publish.
	ErrNoSnapshot = errors.New("no snapshot available")
)

// PublishFailure reports a put the transport rejected, timed out or panicked on.
type PublishFailure struct {
	Path  string
	Epoch uint64
	Err   error
}

func (f *PublishFailure) Error() string {
	return fmt.Sprintf("publish %s (epoch %d): %v", f.Path, f.Epoch, f.Err)
}

func (f *PublishFailure) Unwrap() error { return f.Err }

// Source supplies the snapshot to publish.
type Source interface {
	Latest(ctx context.Context, loc weather.Location) (weather.Snapshot, error)
}

// Connection is the part of connection.Manager the publisher needs.
type Connection interface {
	Current() (connection.Session, error)
	AwaitReady(ctx context.Context) (connection.Session, error)
	AwaitEnd(ctx context.Context, s connection.Session) error
	Changed() <-chan struct{}
	State() connection.State
}

// Recorder receives publish outcomes; *metrics.Collector implements it.
type Recorder interface {
	RecordPublish(result string, took time.Duration)
}

// Config controls where and how snapshots are published.
type Config struct {
	Path     string
	Timeout  time.Duration
	Location weather.Location
}

// Publisher implements the primary device's publish role.
type Publisher struct {
	conn    Connection
	source  Source
	cfg     Config
	metrics Recorder
}

// New creates a Publisher. metrics may be nil.
func New(conn Connection, source Source, cfg Config, metrics Recorder) *Publisher {
	if cfg.Path == "" {
		cfg.Path = weather.DefaultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Publisher{conn: conn, source: source, cfg: cfg, metrics: metrics}
}

// Publish puts snap under the sync path. It returns nil on acknowledgement,
// ErrInvalidSnapshot, ErrNotConnected, or a *PublishFailure.
func (p *Publisher) Publish(ctx context.Context, snap weather.Snapshot) (err error) {
	var epoch uint64
	defer func() {
		if r := recover(); r != nil {
			err = &PublishFailure{Path: p.cfg.Path, Epoch: epoch, Err: fmt.Errorf("panic: %v", r)}
			log.Printf("ERROR: publisher: recovered: %v", err)
			p.record("failed", 0)
		}
	}()

	if verr := snap.Validate(); verr != nil {
		p.record("invalid_snapshot", 0)
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, verr)
	}

	sess, cerr := p.conn.Current()
	if cerr != nil {
		p.record("not_connected", 0)
		return cerr
	}
	epoch = sess.Epoch

	payload, merr := snap.Record().Marshal()
	if merr != nil {
		p.record("failed", 0)
		return &PublishFailure{Path: p.cfg.Path, Epoch: epoch, Err: merr}
	}

	putCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if perr := sess.Link.Put(putCtx, p.cfg.Path, payload); perr != nil {
		p.record("failed", time.Since(start))
		return &PublishFailure{Path: p.cfg.Path, Epoch: epoch, Err: perr}
	}
	p.record("ok", time.Since(start))

	log.Printf("INFO: publisher: pushed %s (weather_id=%d max=%s min=%s epoch=%d)",
		p.cfg.Path, snap.ConditionID, snap.MaxTemp, snap.MinTemp, epoch)
	return nil
}

// PublishLatest reads the current snapshot for the configured location and publishes it.
func (p *Publisher) PublishLatest(ctx context.Context) error {
	snap, err := p.source.Latest(ctx, p.cfg.Location)
	if err != nil {
		return fmt.Errorf("%w for %s: %v", ErrNoSnapshot, p.cfg.Location.Key(), err)
	}
	return p.Publish(ctx, snap)
}

// Run publishes the latest snapshot once every time a new connection epoch
// becomes ready, until ctx is done. Failed attempts are left to whoever owns
// the retry policy; Run just waits for the next transition.
func (p *Publisher) Run(ctx context.Context) error {
	var last uint64
	for {
		sess, err := p.conn.AwaitReady(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Wait out the Failed state.
			changed := p.conn.Changed()
			if p.conn.State() == connection.Failed {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-changed:
				}
			}
			continue
		}

		if sess.Epoch != last {
			last = sess.Epoch
			if perr := p.PublishLatest(ctx); perr != nil {
				log.Printf("publisher: publish on ready (epoch %d): %v", sess.Epoch, perr)
			}
		}

		if err := p.conn.AwaitEnd(ctx, sess); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *Publisher) record(result string, took time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordPublish(result, took)
	}
}
