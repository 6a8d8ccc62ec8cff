package weather

import "time"

// AggregateReadings combines multiple provider readings into a single Observation.
// Temperatures are averaged; the condition code is selected by majority, ties
// going to the lowest code so the result is stable across runs.
// Readings without a condition code never produce an observation.
func AggregateReadings(loc Location, units Units, readings []ProviderReading) (Observation, bool) {
	var (
		sumMax float64
		sumMin float64
		n      int
	)

	conditionCounts := make(map[int]int)
	providers := make([]ProviderContribution, 0, len(readings))
	var newestTS time.Time

	for _, r := range readings {
		if r.ConditionID <= 0 {
			continue
		}
		n++
		sumMax += r.MaxTempC
		sumMin += r.MinTempC

		conditionCounts[r.ConditionID]++

		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}

		providers = append(providers, ProviderContribution{
			ProviderName: r.ProviderName,
			Timestamp:    r.Timestamp,
		})
	}

	if n == 0 {
		return Observation{}, false
	}

	// Pick majority condition.
	bestCond := 0
	bestCount := 0
	for cond, count := range conditionCounts {
		if count > bestCount || (count == bestCount && cond < bestCond) {
			bestCount = count
			bestCond = cond
		}
	}

	if newestTS.IsZero() {
		newestTS = time.Now().UTC()
	}

	return Observation{
		Location:  loc,
		Timestamp: newestTS.UTC(),
		Snapshot: Snapshot{
			ConditionID: bestCond,
			MaxTemp:     FormatTemperature(sumMax/float64(n), units),
			MinTemp:     FormatTemperature(sumMin/float64(n), units),
		},
		Providers: providers,
	}, true
}
