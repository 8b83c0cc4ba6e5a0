package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYorkCalendar(t *testing.T) Calendar {
	t.Helper()
	cal, err := LoadCalendar("America/New_York")
	require.NoError(t, err)
	return cal
}

func TestCalendarWindowStart(t *testing.T) {
	t.Parallel()
	cal := newYorkCalendar(t)

	// 02:30 UTC on the 15th is still the evening of the 14th in New York.
	now := time.Date(2026, 3, 15, 2, 30, 0, 0, time.UTC)

	start := cal.WindowStart(now, 1)
	assert.Equal(t, "2026-03-14", cal.DateString(start))
	assert.Equal(t, 0, start.In(cal.Location()).Hour())

	start = cal.WindowStart(now, 3)
	assert.Equal(t, "2026-03-12", cal.DateString(start))

	assert.Equal(t, cal.WindowStart(now, 1), cal.WindowStart(now, 0))
}

func TestCalendarUTCCrossingIsOneCivilDay(t *testing.T) {
	t.Parallel()
	cal := newYorkCalendar(t)

	evening := time.Date(2026, 6, 1, 22, 0, 0, 0, time.UTC) // 18:00 EDT
	lateNight := time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC) // 23:00 EDT

	assert.True(t, cal.SameDay(evening, lateNight))
	assert.True(t, cal.Within(evening, lateNight, 1))
}

func TestCalendarWithin(t *testing.T) {
	t.Parallel()
	cal := newYorkCalendar(t)
	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		days int
		want bool
	}{
		{"same day", now.Add(-time.Hour), 1, true},
		{"yesterday one-day window", now.Add(-24 * time.Hour), 1, false},
		{"yesterday seven-day window", now.Add(-24 * time.Hour), 7, true},
		{"eight days back", now.Add(-8 * 24 * time.Hour), 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cal.Within(tt.at, now, tt.days))
		})
	}
}

func TestNewCalendarDefaultsToUTC(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.UTC, NewCalendar(nil).Location())
	assert.Equal(t, time.UTC, Calendar{}.Location())
}
