package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sony/gobreaker"

	"github.com/abhinavp13/Ubiquitous/internal/connection"
	"github.com/abhinavp13/Ubiquitous/internal/publisher"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// Refresher pulls fresh weather from upstream; *weather.Service implements it.
type Refresher interface {
	Refresh(ctx context.Context, loc weather.Location) (weather.Observation, error)
}

// Publisher pushes the latest stored snapshot; *publisher.Publisher implements it.
type Publisher interface {
	PublishLatest(ctx context.Context) error
}

// Reconnector is a connection the scheduler retries after a failure;
// *connection.Manager implements it.
type Reconnector interface {
	State() connection.State
	Connect() bool
}

// Recorder receives refresh outcomes; *metrics.Collector implements it.
type Recorder interface {
	RecordRefresh(result string)
}

// Config controls job cadence and the publish retry policy.
type Config struct {
	Interval          time.Duration
	ReconnectInterval time.Duration
	MaxRetries        int
	RetryInterval     time.Duration
	Location          weather.Location
}

// Scheduler owns the periodic jobs of a device: upstream refresh followed by
// publish on the primary, and reconnecting failed connections on both roles.
// The connection manager never retries on its own; this is where the retry
// policy lives.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       Config
	refresher Refresher
	publisher Publisher
	conns     []Reconnector
	breaker   *gobreaker.CircuitBreaker
	metrics   Recorder
}

// New creates a new Scheduler. refresher, pub and metrics may be nil.
func New(cfg Config, refresher Refresher, pub Publisher, metrics Recorder, conns ...Reconnector) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		cfg:       cfg,
		refresher: refresher,
		publisher: pub,
		conns:     conns,
		metrics:   metrics,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "publish",
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     time.Minute,
		}),
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.publisher != nil {
		_, err := s.scheduler.Every(s.cfg.Interval).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
			defer cancel()
			if err := s.RefreshAndPublish(ctx); err != nil {
				log.Printf("scheduler: refresh and publish: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule refresh job: %w", err)
		}
	}

	if len(s.conns) > 0 {
		_, err := s.scheduler.Every(s.cfg.ReconnectInterval).WaitForSchedule().Do(func() {
			if n := s.ReconnectFailed(); n > 0 {
				log.Printf("scheduler: retried %d failed connection(s)", n)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule reconnect job: %w", err)
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RefreshAndPublish refreshes the configured location from upstream, when a
// refresher is set, and publishes the latest snapshot. A failed refresh
// leaves the last published snapshot in place.
func (s *Scheduler) RefreshAndPublish(ctx context.Context) error {
	if s.refresher != nil && s.cfg.Location.City != "" {
		if _, err := s.refresher.Refresh(ctx, s.cfg.Location); err != nil {
			s.record("failed")
			return fmt.Errorf("refresh %s: %w", s.cfg.Location.Key(), err)
		}
		s.record("ok")
	}
	if s.publisher == nil {
		return nil
	}
	return s.publishWithRetry(ctx)
}

// ReconnectFailed calls Connect on every connection in the Failed state and
// returns how many attempts it started.
func (s *Scheduler) ReconnectFailed() int {
	n := 0
	for _, c := range s.conns {
		if c.State() == connection.Failed && c.Connect() {
			n++
		}
	}
	return n
}

// publishWithRetry retries transport failures with exponential backoff behind
// a circuit breaker. Precondition errors (not connected, invalid or missing
// snapshot) are returned at once and do not count against the breaker.
func (s *Scheduler) publishWithRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		var precondition error
		_, err := s.breaker.Execute(func() (interface{}, error) {
			perr := s.publisher.PublishLatest(ctx)
			var failure *publisher.PublishFailure
			if errors.As(perr, &failure) {
				return nil, perr
			}
			precondition = perr
			return nil, nil
		})
		if err == nil {
			return precondition
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("publish circuit open: %w", err)
		}
		if attempt >= s.cfg.MaxRetries {
			return err
		}

		delay := s.cfg.RetryInterval * time.Duration(math.Pow(2, float64(attempt)))
		log.Printf("scheduler: publish attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordRefresh(result)
	}
}
