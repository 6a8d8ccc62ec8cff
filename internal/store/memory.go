package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

var (
	// ErrNotFound is returned when no data is available for a given location.
	ErrNotFound = errors.New("no weather data for location")
)

// ObservationHistory holds a time-ordered list of observations for a location.
type ObservationHistory struct {
	Observations []weather.Observation
}

// MemoryStore is a concurrency-safe in-memory implementation of a weather store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: history
	data map[string]*ObservationHistory

	// retention configuration
	maxHistory int           // max number of observations per location
	maxAge     time.Duration // optional max age for observations

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*ObservationHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveObservation appends a new observation for its location and enforces retention.
// The newest observation always survives retention so GetLatest keeps answering.
func (s *MemoryStore) SaveObservation(_ context.Context, obs weather.Observation) error {
	key := obs.Location.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &ObservationHistory{}
		s.data[key] = history
	}

	history.Observations = append(history.Observations, obs)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Observations) > s.maxHistory {
		over := len(history.Observations) - s.maxHistory
		history.Observations = history.Observations[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Observations)-1; i++ {
			if !history.Observations[i].Timestamp.Before(cutoff) {
				break
			}
		}
		history.Observations = history.Observations[i:]
	}
	return nil
}

// GetLatest returns the most recent observation for a location.
func (s *MemoryStore) GetLatest(_ context.Context, loc weather.Location) (weather.Observation, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Observations) == 0 {
		return weather.Observation{}, ErrNotFound
	}
	return history.Observations[len(history.Observations)-1], nil
}

// GetRange returns all observations for a location between from and to (inclusive).
func (s *MemoryStore) GetRange(_ context.Context, loc weather.Location, from, to time.Time) ([]weather.Observation, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Observations) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Observation
	for _, obs := range history.Observations {
		if !obs.Timestamp.Before(from) && !obs.Timestamp.After(to) {
			result = append(result, obs)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
