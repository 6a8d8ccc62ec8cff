package weather

import "testing"

func TestConditionTableIcons(t *testing.T) {
	table := ConditionTable{}
	cases := []struct {
		id   int
		want Icon
	}{
		{200, IconStorm},
		{232, IconStorm},
		{301, IconLightRain},
		{502, IconRain},
		{511, IconSnow},
		{522, IconRain},
		{601, IconSnow},
		{741, IconFog},
		{781, IconStorm},
		{800, IconClear},
		{801, IconLightClouds},
		{802, IconLightClouds},
		{803, IconClouds},
		{804, IconClouds},
		{0, IconUnresolved},
		{-1, IconUnresolved},
		{999, IconUnresolved},
	}
	for _, tc := range cases {
		if got := table.Icon(tc.id); got != tc.want {
			t.Errorf("Icon(%d): expected %q, got %q", tc.id, tc.want, got)
		}
	}
}

func TestConditionTableLabels(t *testing.T) {
	table := ConditionTable{}
	if label, ok := table.Label(802); !ok || label != "Few Clouds" {
		t.Fatalf("expected Few Clouds, got %q (ok=%v)", label, ok)
	}
	if label, ok := table.Label(221); !ok || label != "Storm" {
		t.Fatalf("expected Storm for thunderstorm range, got %q", label)
	}
	if _, ok := table.Label(0); ok {
		t.Fatal("code 0 must not resolve to a label")
	}
}

func TestFormatTemperature(t *testing.T) {
	cases := []struct {
		c     float64
		units Units
		want  string
	}{
		{23.6, UnitsMetric, "24°"},
		{-0.3, UnitsMetric, "0°"},
		{-4.6, UnitsMetric, "-5°"},
		{23.9, UnitsImperial, "75°"},
		{11.1, UnitsImperial, "52°"},
	}
	for _, tc := range cases {
		if got := FormatTemperature(tc.c, tc.units); got != tc.want {
			t.Errorf("FormatTemperature(%v, %s): expected %q, got %q", tc.c, tc.units, tc.want, got)
		}
	}
}

func TestSnapshotValidate(t *testing.T) {
	if err := (Snapshot{ConditionID: 802, MaxTemp: "75°", MinTemp: "52°"}).Validate(); err != nil {
		t.Fatalf("complete snapshot rejected: %v", err)
	}

	for _, s := range []Snapshot{
		{},
		{ConditionID: 802, MaxTemp: "75°"},
		{ConditionID: 0, MaxTemp: "75°", MinTemp: "52°"},
	} {
		if err := s.Validate(); err == nil {
			t.Errorf("expected %+v to be rejected", s)
		}
	}
}

func TestFieldsFromRecord(t *testing.T) {
	snap := Snapshot{ConditionID: 802, MaxTemp: "75°", MinTemp: "52°"}
	f := FieldsFromRecord(snap.Record())
	if f.ConditionID == nil || *f.ConditionID != 802 {
		t.Fatalf("condition id not carried: %+v", f)
	}
	if f.MaxTemp == nil || *f.MaxTemp != "75°" || f.MinTemp == nil || *f.MinTemp != "52°" {
		t.Fatalf("temperatures not carried: %+v", f)
	}

	partial := FieldsFromRecord(snap.Record().PutString(FieldMaxTemp, ""))
	if partial.MaxTemp != nil {
		t.Fatal("empty string should read as missing")
	}
}

func TestAggregateReadings(t *testing.T) {
	loc := Location{City: "Paris", Country: "FR"}
	readings := []ProviderReading{
		{ProviderName: "a", ConditionID: 803, MaxTempC: 20, MinTempC: 10},
		{ProviderName: "b", ConditionID: 802, MaxTempC: 22, MinTempC: 12},
		{ProviderName: "c", ConditionID: 0, MaxTempC: 90, MinTempC: 90},
	}

	obs, ok := AggregateReadings(loc, UnitsMetric, readings)
	if !ok {
		t.Fatal("expected an observation")
	}
	// Tie between 802 and 803 goes to the lower code; reading c is ignored.
	if obs.Snapshot.ConditionID != 802 {
		t.Fatalf("expected 802, got %d", obs.Snapshot.ConditionID)
	}
	if obs.Snapshot.MaxTemp != "21°" || obs.Snapshot.MinTemp != "11°" {
		t.Fatalf("unexpected temperatures %+v", obs.Snapshot)
	}
	if len(obs.Providers) != 2 {
		t.Fatalf("expected 2 contributing providers, got %d", len(obs.Providers))
	}

	if _, ok := AggregateReadings(loc, UnitsMetric, nil); ok {
		t.Fatal("no readings must not produce an observation")
	}
}
