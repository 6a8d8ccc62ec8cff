package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schemas = map[string]string{
	DriverSQLite: `
CREATE TABLE IF NOT EXISTS observations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	city         TEXT    NOT NULL,
	country      TEXT    NOT NULL,
	observed_at  INTEGER NOT NULL,
	condition_id INTEGER NOT NULL,
	max_temp     TEXT    NOT NULL,
	min_temp     TEXT    NOT NULL,
	providers    TEXT    NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_observations_loc_time ON observations(city, country, observed_at);`,
	DriverPostgres: `
CREATE TABLE IF NOT EXISTS observations (
	id           BIGSERIAL PRIMARY KEY,
	city         TEXT    NOT NULL,
	country      TEXT    NOT NULL,
	observed_at  BIGINT  NOT NULL,
	condition_id INTEGER NOT NULL,
	max_temp     TEXT    NOT NULL,
	min_temp     TEXT    NOT NULL,
	providers    TEXT    NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_observations_loc_time ON observations(city, country, observed_at);`,
}

// observationRow is the persisted shape of a weather.Observation.
// observed_at is stored as unix milliseconds so both drivers agree on it.
type observationRow struct {
	ID          int64  `db:"id"`
	City        string `db:"city"`
	Country     string `db:"country"`
	ObservedAt  int64  `db:"observed_at"`
	ConditionID int    `db:"condition_id"`
	MaxTemp     string `db:"max_temp"`
	MinTemp     string `db:"min_temp"`
	Providers   string `db:"providers"`
}

func (r observationRow) toObservation() weather.Observation {
	obs := weather.Observation{
		Location:  weather.Location{City: r.City, Country: r.Country},
		Timestamp: time.UnixMilli(r.ObservedAt).UTC(),
		Snapshot: weather.Snapshot{
			ConditionID: r.ConditionID,
			MaxTemp:     r.MaxTemp,
			MinTemp:     r.MinTemp,
		},
	}
	if r.Providers != "" {
		if err := json.Unmarshal([]byte(r.Providers), &obs.Providers); err != nil {
			log.Printf("store: ignoring malformed providers for observation %d: %v", r.ID, err)
		}
	}
	return obs
}

// SQLStore persists observations in SQLite or PostgreSQL through sqlx.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL connects to the database and makes sure the schema exists.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps ":memory:" databases coherent and
		// serializes writers the way sqlite wants anyway.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// SaveObservation inserts a new row for the observation.
func (s *SQLStore) SaveObservation(ctx context.Context, obs weather.Observation) error {
	providers, err := json.Marshal(obs.Providers)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}
	if obs.Providers == nil {
		providers = []byte("[]")
	}

	q := s.db.Rebind(`INSERT INTO observations
		(city, country, observed_at, condition_id, max_temp, min_temp, providers)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q,
		obs.Location.City,
		obs.Location.Country,
		obs.Timestamp.UTC().UnixMilli(),
		obs.Snapshot.ConditionID,
		obs.Snapshot.MaxTemp,
		obs.Snapshot.MinTemp,
		string(providers),
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// GetLatest returns the most recent observation for a location.
func (s *SQLStore) GetLatest(ctx context.Context, loc weather.Location) (weather.Observation, error) {
	var row observationRow
	q := s.db.Rebind(`SELECT id, city, country, observed_at, condition_id, max_temp, min_temp, providers
		FROM observations
		WHERE city = ? AND country = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, loc.City, loc.Country); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return weather.Observation{}, ErrNotFound
		}
		return weather.Observation{}, fmt.Errorf("query latest observation: %w", err)
	}
	return row.toObservation(), nil
}

// GetRange returns all observations for a location between from and to (inclusive).
func (s *SQLStore) GetRange(ctx context.Context, loc weather.Location, from, to time.Time) ([]weather.Observation, error) {
	var rows []observationRow
	q := s.db.Rebind(`SELECT id, city, country, observed_at, condition_id, max_temp, min_temp, providers
		FROM observations
		WHERE city = ? AND country = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, id ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, loc.City, loc.Country, from.UTC().UnixMilli(), to.UTC().UnixMilli()); err != nil {
		return nil, fmt.Errorf("query observation range: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	result := make([]weather.Observation, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toObservation())
	}
	return result, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
