package weather

import (
	"fmt"
	"math"
)

// FormatTemperature renders a Celsius reading for display in the requested units.
// The sync channel treats the result as an opaque string.
func FormatTemperature(celsius float64, units Units) string {
	v := celsius
	if units == UnitsImperial {
		v = celsius*1.8 + 32
	}
	// Avoid printing "-0°".
	r := math.Round(v)
	if r == 0 {
		r = 0
	}
	return fmt.Sprintf("%.0f°", r)
}
