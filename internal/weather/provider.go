package weather

import (
	"context"
	"time"
)

// ProviderReading represents a single provider's daily outlook
// that can be aggregated into an Observation.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time

	// ConditionID uses the OpenWeatherMap classification regardless of provider.
	ConditionID int
	MaxTempC    float64
	MinTempC    float64
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (ProviderReading, error)
}

// Store is the contract the snapshot stores (memory, SQL) must satisfy.
type Store interface {
	SaveObservation(ctx context.Context, obs Observation) error
	GetLatest(ctx context.Context, loc Location) (Observation, error)
	GetRange(ctx context.Context, loc Location, from, to time.Time) ([]Observation, error)
}
