package digest

import "time"

// Calendar interprets instants as civil dates in a single anchor timezone.
// All day-granularity comparisons (freshness, collision, history scoping)
// go through it.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar anchored at loc (UTC when nil).
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// LoadCalendar resolves an IANA zone name.
func LoadCalendar(name string) (Calendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, err
	}
	return NewCalendar(loc), nil
}

// Location returns the anchor timezone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// StartOfDay returns local midnight of the civil day containing t.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	lt := t.In(c.Location())
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location())
}

// WindowStart returns the first instant of a window covering the given
// number of civil days ending with (and including) the day containing now.
// A one-day window starts at today's local midnight.
func (c Calendar) WindowStart(now time.Time, days int) time.Time {
	if days < 1 {
		days = 1
	}
	start := c.StartOfDay(now)
	y, m, d := start.Date()
	return time.Date(y, m, d-(days-1), 0, 0, 0, 0, c.Location())
}

// Within reports whether t falls inside the days-long window ending today.
func (c Calendar) Within(t, now time.Time, days int) bool {
	return !t.Before(c.WindowStart(now, days))
}

// DateString formats the civil date of t as YYYY-MM-DD.
func (c Calendar) DateString(t time.Time) string {
	return t.In(c.Location()).Format(time.DateOnly)
}

// SameDay reports whether a and b share a civil date.
func (c Calendar) SameDay(a, b time.Time) bool {
	return c.DateString(a) == c.DateString(b)
}
