package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrNoReadings is returned when every provider failed for a refresh.
var ErrNoReadings = errors.New("no successful provider readings")

// Service orchestrates fetching from multiple providers and persisting observations.
// It is the primary device's upstream refresh; the sync channel only reads what
// it stores.
type Service struct {
	store     Store
	providers []Provider
	units     Units
}

// NewService creates a new Service.
func NewService(store Store, providers []Provider, units Units) *Service {
	if units == "" {
		units = UnitsMetric
	}
	return &Service{
		store:     store,
		providers: providers,
		units:     units,
	}
}

// Refresh fetches data from all providers concurrently for the given location,
// aggregates successful readings, and stores an observation.
// When no provider succeeds the last good observation is left untouched.
func (s *Service) Refresh(ctx context.Context, loc Location) (Observation, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []ProviderReading
	)

	if len(s.providers) == 0 {
		return Observation{}, fmt.Errorf("no weather providers configured")
	}

	for _, p := range s.providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()

			r, err := p.Fetch(ctx, loc)
			if err != nil {
				// Log and continue; we want partial success when possible.
				log.Printf("provider %s fetch failed for %s: %v", p.Name(), loc.Key(), err)
				return
			}

			mu.Lock()
			readings = append(readings, r)
			mu.Unlock()
		}()
	}

	wg.Wait()

	obs, ok := AggregateReadings(loc, s.units, readings)
	if !ok {
		log.Printf("no successful provider readings for %s; keeping last good observation if any", loc.Key())
		return Observation{}, ErrNoReadings
	}

	if err := s.store.SaveObservation(ctx, obs); err != nil {
		return Observation{}, fmt.Errorf("save observation: %w", err)
	}
	return obs, nil
}

// Save validates and stores an observation supplied from outside (e.g. the HTTP ingest).
func (s *Service) Save(ctx context.Context, loc Location, snap Snapshot) (Observation, error) {
	if err := snap.Validate(); err != nil {
		return Observation{}, err
	}
	obs := Observation{
		Location:  loc,
		Timestamp: time.Now().UTC(),
		Snapshot:  snap,
	}
	if err := s.store.SaveObservation(ctx, obs); err != nil {
		return Observation{}, fmt.Errorf("save observation: %w", err)
	}
	return obs, nil
}

// Latest returns the current snapshot for a location. It satisfies the
// publisher's snapshot source contract.
func (s *Service) Latest(ctx context.Context, loc Location) (Snapshot, error) {
	obs, err := s.store.GetLatest(ctx, loc)
	if err != nil {
		return Snapshot{}, err
	}
	return obs.Snapshot, nil
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(ctx context.Context, loc Location) (Observation, error) {
	return s.store.GetLatest(ctx, loc)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(ctx context.Context, loc Location, from, to time.Time) ([]Observation, error) {
	return s.store.GetRange(ctx, loc, from, to)
}
