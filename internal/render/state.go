// Package render holds the companion device's presentation state: the last
// known-good weather display, its placeholders, and the debounced advisory
// notice. A Holder is owned by exactly one Loop goroutine.
package render

import "github.com/abhinavp13/Ubiquitous/internal/weather"

// Placeholders shown for fields that never received real data.
const (
	PlaceholderTemp  = "--"
	PlaceholderLabel = "Unknown"
	PlaceholderIcon  = weather.IconDefault
)

// AdvisoryText is the notice shown when no valid snapshot could be obtained.
const AdvisoryText = "Keep close to device for weather update"

// Field is a bit set of display fields.
type Field uint8

const (
	FieldIcon Field = 1 << iota
	FieldLabel
	FieldMax
	FieldMin

	AllFields = FieldIcon | FieldLabel | FieldMax | FieldMin
)

// Has reports whether every bit of f2 is set in f.
func (f Field) Has(f2 Field) bool { return f&f2 == f2 }

// Names lists the set fields in display order.
func (f Field) Names() []string {
	var out []string
	for _, e := range []struct {
		bit  Field
		name string
	}{
		{FieldIcon, "icon"},
		{FieldLabel, "label"},
		{FieldMax, "max_temp"},
		{FieldMin, "min_temp"},
	} {
		if f.Has(e.bit) {
			out = append(out, e.name)
		}
	}
	return out
}

// State is an immutable render snapshot handed to the renderer.
type State struct {
	Icon    weather.Icon `json:"icon"`
	Label   string       `json:"label"`
	MaxTemp string       `json:"maxTemp"`
	MinTemp string       `json:"minTemp"`
	// Real marks the fields that hold received data rather than placeholders.
	Real     Field  `json:"-"`
	Advisory string `json:"advisory,omitempty"`
}

// Placeholder returns the state shown before any data arrives.
func Placeholder() State {
	return State{
		Icon:    PlaceholderIcon,
		Label:   PlaceholderLabel,
		MaxTemp: PlaceholderTemp,
		MinTemp: PlaceholderTemp,
	}
}

// Candidate is a decoded, possibly partial, update. Zero values mean the
// field could not be resolved.
type Candidate struct {
	Icon    weather.Icon
	Label   string
	MaxTemp string
	MinTemp string
}

// Resolved returns the fields the candidate carries.
func (c Candidate) Resolved() Field {
	var f Field
	if c.Icon != weather.IconUnresolved {
		f |= FieldIcon
	}
	if c.Label != "" {
		f |= FieldLabel
	}
	if c.MaxTemp != "" {
		f |= FieldMax
	}
	if c.MinTemp != "" {
		f |= FieldMin
	}
	return f
}
