// Package kafka is a data-layer driver backed by a single-partition,
// log-compacted Kafka topic. Records are keyed by path so compaction keeps the
// latest put per path; a tombstone (nil value) reads as a deletion. Every
// listener replays the topic from the first offset, which delivers the latest
// record to newly registered peers.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/atomic"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

// Config describes the cluster and topic.
type Config struct {
	Brokers []string
	Topic   string
	// RetryInterval is the pause after a failed fetch. Defaults to one second.
	RetryInterval time.Duration
}

// Dialer opens Kafka links.
type Dialer struct {
	cfg Config
}

// NewDialer returns a Dialer for cfg.
func NewDialer(cfg Config) *Dialer {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &Dialer{cfg: cfg}
}

// Dial checks that a broker is reachable and the topic exists, then returns a
// link with a synchronous writer.
func (d *Dialer) Dial(ctx context.Context, hooks datalayer.Hooks) (datalayer.Link, error) {
	if len(d.cfg.Brokers) == 0 || d.cfg.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}

	conn, err := dialAny(ctx, d.cfg.Brokers)
	if err != nil {
		return nil, err
	}
	parts, err := conn.ReadPartitions(d.cfg.Topic)
	conn.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: kafka topic %s: %v", datalayer.ErrUnavailable, d.cfg.Topic, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: kafka topic %s has no partitions", datalayer.ErrUnavailable, d.cfg.Topic)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &link{
		cfg:   d.cfg,
		hooks: hooks,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(d.cfg.Brokers...),
			Topic:        d.cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			Async:        false,
		},
		ctx:     runCtx,
		cancel:  cancel,
		closed:  atomic.NewBool(false),
		stalled: atomic.NewInt32(0),
	}, nil
}

func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: kafka brokers: %v", datalayer.ErrUnavailable, lastErr)
}

type link struct {
	cfg    Config
	hooks  datalayer.Hooks
	writer *kafka.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed *atomic.Bool
	// stalled counts readers currently failing to fetch; the link is
	// suspended while it is non-zero.
	stalled *atomic.Int32
}

func (l *link) Put(ctx context.Context, path string, payload []byte) error {
	if l.closed.Load() {
		return datalayer.ErrClosed
	}
	err := l.writer.WriteMessages(ctx, kafka.Message{Key: []byte(path), Value: payload})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", path, err)
	}
	return nil
}

func (l *link) AddListener(fn datalayer.Listener) (func(), error) {
	if l.closed.Load() {
		return nil, datalayer.ErrClosed
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   l.cfg.Brokers,
		Topic:     l.cfg.Topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   500 * time.Millisecond,
	})
	if err := r.SetOffset(kafka.FirstOffset); err != nil {
		r.Close()
		return nil, fmt.Errorf("kafka reader offset: %w", err)
	}

	ctx, cancel := context.WithCancel(l.ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer r.Close()
		l.consume(ctx, r, fn)
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func (l *link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.cancel()
	l.wg.Wait()
	return l.writer.Close()
}

func (l *link) consume(ctx context.Context, r *kafka.Reader, fn datalayer.Listener) {
	stalled := false
	defer func() {
		if stalled {
			l.unstall()
		}
	}()

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !stalled {
				stalled = true
				l.stall(err)
			}
			log.Printf("kafka: fetch from %s: %v", l.cfg.Topic, err)

			timer := time.NewTimer(l.cfg.RetryInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		if stalled {
			stalled = false
			l.unstall()
		}
		fn([]datalayer.Event{eventFromMessage(msg)})
	}
}

// stall marks one reader as failing; the first one suspends the link.
func (l *link) stall(err error) {
	if l.stalled.Inc() == 1 && l.hooks.Suspended != nil {
		l.hooks.Suspended(fmt.Errorf("%w: %v", datalayer.ErrUnavailable, err))
	}
}

// unstall clears a reader's failing mark, whether it recovered or was
// removed. The last one resumes the link unless it is closed.
func (l *link) unstall() {
	if l.stalled.Dec() == 0 && !l.closed.Load() && l.hooks.Resumed != nil {
		l.hooks.Resumed()
	}
}

func eventFromMessage(msg kafka.Message) datalayer.Event {
	path := string(msg.Key)
	if msg.Value == nil {
		return datalayer.Event{Kind: datalayer.EventDeleted, Path: path}
	}
	return datalayer.Event{Kind: datalayer.EventChanged, Path: path, Payload: msg.Value}
}
