package render

// Holder is the last-known-good render state. It is not safe for concurrent
// use; Loop serializes access.
type Holder struct {
	state   State
	applied bool
	// armed is true while a failure may still raise the advisory.
	armed bool
}

// NewHolder returns a holder showing placeholders.
func NewHolder() *Holder {
	return &Holder{state: Placeholder(), armed: true}
}

// State returns the current render state.
func (h *Holder) State() State { return h.state }

// ApplyOrFallback merges c into the current state. Before anything valid was
// applied the base is the placeholder set; afterwards unresolved fields keep
// their last value. A candidate resolving no field at all counts as a failure.
// It reports whether the visible state changed.
func (h *Holder) ApplyOrFallback(c Candidate) (State, bool) {
	resolved := c.Resolved()
	if resolved == 0 {
		return h.MarkFailure()
	}

	next := h.state
	if !h.applied {
		next = Placeholder()
	}
	if resolved.Has(FieldIcon) {
		next.Icon = c.Icon
	}
	if resolved.Has(FieldLabel) {
		next.Label = c.Label
	}
	if resolved.Has(FieldMax) {
		next.MaxTemp = c.MaxTemp
	}
	if resolved.Has(FieldMin) {
		next.MinTemp = c.MinTemp
	}
	next.Real |= resolved
	next.Advisory = ""

	h.applied = true
	h.armed = true
	return h.set(next)
}

// MarkFailure records a cycle that produced no usable data. The advisory is
// raised once and stays quiet until a success or Dismiss.
func (h *Holder) MarkFailure() (State, bool) {
	if !h.armed {
		return h.state, false
	}
	h.armed = false

	next := h.state
	if !h.applied {
		next = Placeholder()
	}
	next.Advisory = AdvisoryText
	return h.set(next)
}

// Dismiss hides the advisory. The next failure may raise it again.
func (h *Holder) Dismiss() (State, bool) {
	h.armed = true
	next := h.state
	next.Advisory = ""
	return h.set(next)
}

func (h *Holder) set(next State) (State, bool) {
	if next == h.state {
		return h.state, false
	}
	h.state = next
	return next, true
}
