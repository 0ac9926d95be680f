package models

import "time"

// Span is a half-open time interval [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// Expand grows the span by d on both ends.
func (s Span) Expand(d time.Duration) Span {
	return Span{Start: s.Start.Add(-d), End: s.End.Add(d)}
}

// Overlaps reports whether two spans share any time. Abutting spans
// (one ends exactly when the other starts) do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Contains reports whether o lies entirely within s.
func (s Span) Contains(o Span) bool {
	return !o.Start.Before(s.Start) && !o.End.After(s.End)
}

// Duration returns the span length.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
