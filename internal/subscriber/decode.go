package subscriber

import (
	"github.com/abhinavp13/Ubiquitous/internal/render"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// UnresolvedField marks the display fields a record could not supply. They
// are substituted by the holder and counted, never escalated.
type UnresolvedField = render.Field

// Decode turns the fields of a received record into a render candidate. A
// missing or zero condition id leaves both icon and label unresolved.
func Decode(f weather.Fields, resolver weather.Resolver) (render.Candidate, UnresolvedField) {
	var c render.Candidate

	if f.ConditionID != nil && *f.ConditionID != 0 {
		c.Icon = resolver.Icon(*f.ConditionID)
		if label, ok := resolver.Label(*f.ConditionID); ok {
			c.Label = label
		}
	}
	if f.MaxTemp != nil {
		c.MaxTemp = *f.MaxTemp
	}
	if f.MinTemp != nil {
		c.MinTemp = *f.MinTemp
	}

	return c, render.AllFields &^ c.Resolved()
}
