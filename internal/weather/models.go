package weather

import (
	"time"
)

// Units selects how temperatures are formatted before they enter the sync channel.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// Location represents a logical place for which we track weather.
// City/Country must be provided; Lat/Lon are only needed by providers
// that cannot geocode on their own.
type Location struct {
	City    string   `json:"city" db:"city"`
	Country string   `json:"country" db:"country"`
	Lat     *float64 `json:"lat,omitempty" db:"-"`
	Lon     *float64 `json:"lon,omitempty" db:"-"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return l.City + ":" + l.Country
}

// Snapshot is the unit of synchronized state: a condition code plus
// pre-formatted max/min temperature strings. A snapshot is either complete
// or absent; see Validate.
type Snapshot struct {
	ConditionID int    `json:"conditionId" validate:"required,gt=0"`
	MaxTemp     string `json:"maxTemp" validate:"required"`
	MinTemp     string `json:"minTemp" validate:"required"`
}

// IsZero reports whether the snapshot carries no data at all.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// Observation is a snapshot as persisted on the primary device.
type Observation struct {
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"` // always UTC
	Snapshot  Snapshot  `json:"snapshot"`

	// Providers contributing to this observation.
	Providers []ProviderContribution `json:"providers,omitempty"`
}

// ProviderContribution describes data coming from a single provider used in aggregation.
type ProviderContribution struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
}
