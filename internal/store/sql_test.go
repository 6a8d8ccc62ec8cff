package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if _, err := s.GetLatest(ctx, paris); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := observationAt(base, 500)
	first.Providers = []weather.ProviderContribution{{ProviderName: "openmeteo", Timestamp: base}}
	if err := s.SaveObservation(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveObservation(ctx, observationAt(base.Add(time.Hour), 802)); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, err := s.GetLatest(ctx, paris)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Snapshot != (weather.Snapshot{ConditionID: 802, MaxTemp: "20°", MinTemp: "10°"}) {
		t.Fatalf("unexpected latest snapshot: %+v", latest.Snapshot)
	}
	if !latest.Timestamp.Equal(base.Add(time.Hour)) {
		t.Fatalf("timestamp not preserved: %v", latest.Timestamp)
	}

	got, err := s.GetRange(ctx, paris, base, base)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 1 || len(got[0].Providers) != 1 || got[0].Providers[0].ProviderName != "openmeteo" {
		t.Fatalf("unexpected range result: %+v", got)
	}

	other := weather.Location{City: "Oslo", Country: "NO"}
	if _, err := s.GetRange(ctx, other, base, base.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other location, got %v", err)
	}
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
