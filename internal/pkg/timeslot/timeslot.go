// Package timeslot holds interval arithmetic shared by the booking engines.
// All ranges are half-open: [Start, End).
package timeslot

import "time"

type Range struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

func New(start, end time.Time) Range {
	return Range{Start: start, End: end}
}

func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r Range) IsValid() bool {
	return r.End.After(r.Start)
}

// Overlaps reports whether two half-open ranges share any instant.
// Ranges that only touch at an edge do not overlap.
func (r Range) Overlaps(o Range) bool {
	return Overlaps(r.Start, r.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Hourly splits r into consecutive one-hour ranges starting at r.Start.
// The last range is clipped to r.End.
func (r Range) Hourly() []Range {
	var out []Range
	for cur := r.Start; cur.Before(r.End); cur = cur.Add(time.Hour) {
		next := cur.Add(time.Hour)
		if next.After(r.End) {
			next = r.End
		}
		out = append(out, Range{Start: cur, End: next})
	}
	return out
}

// StartOfWeek returns Monday 00:00 of the week containing t, in t's location.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDay is midnight after t's calendar day, the exclusive end of that day.
func NextDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}
