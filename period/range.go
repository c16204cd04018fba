package period

// Range is an optionally open interval of days, bounds included.
type Range struct {
	From *Date
	To   *Date
}

// IsSet reports whether at least one bound is present.
func (r Range) IsSet() bool { return r.From != nil || r.To != nil }

// Contains reports whether d lies within the range. Missing bounds are open.
func (r Range) Contains(d Date) bool {
	if r.From != nil && d.Before(*r.From) {
		return false
	}
	if r.To != nil && d.After(*r.To) {
		return false
	}
	return true
}

// Keep decides whether a portal row with the given emission-date text passes
// the filter. Text without a parseable date is kept.
func (r Range) Keep(emission string) bool {
	if !r.IsSet() {
		return true
	}
	d, ok := ParseBR(emission)
	if !ok {
		return true
	}
	return r.Contains(d)
}

// Label renders the range as "DD/MM/YYYY até DD/MM/YYYY", with "N/D" for a
// missing bound.
func (r Range) Label() string {
	return brOrND(r.From) + " até " + brOrND(r.To)
}

func brOrND(d *Date) string {
	if d == nil {
		return "N/D"
	}
	return d.BR()
}
