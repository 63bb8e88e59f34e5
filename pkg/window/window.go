// Package window decides whether an outreach action may run at a given
// instant, based on a program's allowed weekdays and local time-of-day range.
package window

import (
	"sync"
	"time"

	"github.com/leadflow/leadflow/pkg/model"
)

// Window is the allowed send window of a program. Days use ISO numbering
// (Monday=1 .. Sunday=7). StartMinute and EndMinute are local minutes since
// midnight and both ends are inclusive.
type Window struct {
	TimeZone    string
	Days        []int64
	StartMinute int
	EndMinute   int
}

func ForProgram(p *model.Program) Window {
	return Window{
		TimeZone:    p.TimeZone,
		Days:        p.SendDays,
		StartMinute: p.WindowStartMinute,
		EndMinute:   p.WindowEndMinute,
	}
}

// IsWithinWindow reports whether now falls inside w.
func IsWithinWindow(w Window, now time.Time) bool {
	local := now.In(Location(w.TimeZone))

	if !containsDay(w.Days, ISOWeekday(local)) {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return w.StartMinute <= minutes && minutes <= w.EndMinute
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int64 {
	wd := int64(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func containsDay(days []int64, day int64) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

var locations sync.Map

// Location loads an IANA zone, falling back to UTC when the name is empty or
// unknown.
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	if cached, ok := locations.Load(name); ok {
		return cached.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}

// StartOfDay returns local midnight of now in the given zone.
func StartOfDay(name string, now time.Time) time.Time {
	local := now.In(Location(name))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}
