package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leadflow/leadflow/pkg/model"
)

var weekdays = []int64{1, 2, 3, 4, 5}

func businessHours(tz string) Window {
	return Window{TimeZone: tz, Days: weekdays, StartMinute: 9 * 60, EndMinute: 17 * 60}
}

func TestIsWithinWindow(t *testing.T) {
	cases := []struct {
		name string
		w    Window
		at   time.Time
		want bool
	}{
		{"weekday inside", businessHours("UTC"), time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), true},
		{"saturday rejected", businessHours("UTC"), time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC), false},
		{"sunday rejected", businessHours("UTC"), time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), false},
		{"start inclusive", businessHours("UTC"), time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), true},
		{"end inclusive", businessHours("UTC"), time.Date(2026, 3, 4, 17, 0, 59, 0, time.UTC), true},
		{"after end", businessHours("UTC"), time.Date(2026, 3, 4, 17, 1, 0, 0, time.UTC), false},
		{"before start", businessHours("UTC"), time.Date(2026, 3, 4, 8, 59, 0, 0, time.UTC), false},
		// 23:30 UTC Friday is 08:30 Saturday in Tokyo.
		{"zone shifts day", businessHours("Asia/Tokyo"), time.Date(2026, 3, 6, 23, 30, 0, 0, time.UTC), false},
		// 14:00 UTC is 09:00 in New York during EST.
		{"zone shifts hour", businessHours("America/New_York"), time.Date(2026, 1, 14, 14, 0, 0, 0, time.UTC), true},
		{"unknown zone falls back to utc", businessHours("Mars/Olympus"), time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), true},
		{"sunday is seven", Window{Days: []int64{7}, StartMinute: 0, EndMinute: 1439}, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), true},
		{"no days", Window{StartMinute: 0, EndMinute: 1439}, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsWithinWindow(tc.w, tc.at))
		})
	}
}

func TestIsWithinWindowMatchesDefinition(t *testing.T) {
	w := Window{TimeZone: "Europe/Berlin", Days: []int64{2, 4, 6}, StartMinute: 8*60 + 30, EndMinute: 18 * 60}
	loc := Location(w.TimeZone)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for at := start; at.Before(start.Add(14 * 24 * time.Hour)); at = at.Add(17 * time.Minute) {
		local := at.In(loc)
		minutes := local.Hour()*60 + local.Minute()
		want := containsDay(w.Days, ISOWeekday(local)) && w.StartMinute <= minutes && minutes <= w.EndMinute
		if got := IsWithinWindow(w, at); got != want {
			t.Fatalf("IsWithinWindow(%s) = %v, want %v", at, got, want)
		}
	}
}

func TestForProgram(t *testing.T) {
	p := &model.Program{TimeZone: "UTC", SendDays: weekdays, WindowStartMinute: 540, WindowEndMinute: 1020}
	w := ForProgram(p)
	assert.Equal(t, businessHours("UTC"), w)
}

func TestStartOfDay(t *testing.T) {
	at := time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
	got := StartOfDay("America/New_York", at)
	assert.Equal(t, 3, got.Day())
	assert.Equal(t, 0, got.Hour())
}
