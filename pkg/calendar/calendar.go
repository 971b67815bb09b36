// Package calendar applies delivery-calendar constraints (quiet hours,
// weekends, holidays) to computed wake times. Adjustments only ever move a
// time forward.
package calendar

import (
	"fmt"
	"time"
)

// QuietHours is a daily window during which delivery is deferred. The
// window may cross midnight (e.g. 21:00-09:00). Start is inclusive, End
// exclusive.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty"` // "HH:MM"
	End     string `json:"end,omitempty"`   // "HH:MM"
}

// Adjustments are the orthogonal calendar modifiers a delay or send can
// carry on top of its type-specific timing.
type Adjustments struct {
	QuietHours     QuietHours `json:"quiet_hours"`
	SkipWeekends   bool       `json:"skip_weekends"`
	SkipHolidays   bool       `json:"skip_holidays"`
	HolidayPreset  string     `json:"holiday_preset,omitempty"`  // "US", "EU" or "" for custom only
	CustomHolidays []string   `json:"custom_holidays,omitempty"` // "YYYY-MM-DD"
	Timezone       string     `json:"timezone,omitempty"`        // IANA name; defaults to UTC
}

// presets are observed-date holiday calendars. Kept deliberately small:
// the builder UI sends custom dates for anything market-specific.
var presets = map[string][]string{
	"US": {"01-01", "07-04", "12-25", "12-26", "11-28"},
	"EU": {"01-01", "05-01", "12-25", "12-26"},
}

// Location resolves the configured timezone, defaulting to UTC.
func (a Adjustments) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", a.Timezone, err)
	}

	return loc, nil
}

// Apply moves t forward past every exclusion window and returns the first
// allowed instant. It never moves t backward; a t that is already allowed
// is returned unchanged.
func (a Adjustments) Apply(t time.Time) time.Time {
	loc, err := a.Location()
	if err != nil {
		loc = time.UTC
	}

	local := t.In(loc)

	// Exclusions interact (leaving quiet hours can land on a weekend and
	// vice versa), so re-run the passes until a fixed point. Bounded to
	// avoid spinning on a calendar that excludes everything.
	for range 366 {
		adjusted := local

		if a.QuietHours.Enabled {
			adjusted = a.quietHoursEnd(adjusted)
		}

		if a.SkipWeekends {
			adjusted = skipWeekend(adjusted)
		}

		if a.SkipHolidays {
			adjusted = a.skipHoliday(adjusted)
		}

		if adjusted.Equal(local) {
			return adjusted
		}

		local = adjusted
	}

	return local
}

// quietHoursEnd defers t to the end of the quiet window when t falls
// inside [start, end).
func (a Adjustments) quietHoursEnd(t time.Time) time.Time {
	start, okStart := parseClock(a.QuietHours.Start)
	end, okEnd := parseClock(a.QuietHours.End)

	if !okStart || !okEnd || start == end {
		return t
	}

	minutes := t.Hour()*60 + t.Minute()

	if start < end {
		// Same-day window, e.g. 12:00-14:00.
		if minutes >= start && minutes < end {
			return atClock(t, end)
		}

		return t
	}

	// Midnight-crossing window, e.g. 21:00-09:00.
	if minutes >= start {
		return atClock(t.AddDate(0, 0, 1), end)
	}

	if minutes < end {
		return atClock(t, end)
	}

	return t
}

// skipWeekend advances to the next weekday, preserving the time of day.
func skipWeekend(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}

	return t
}

func (a Adjustments) skipHoliday(t time.Time) time.Time {
	for a.isHoliday(t) {
		t = t.AddDate(0, 0, 1)
	}

	return t
}

func (a Adjustments) isHoliday(t time.Time) bool {
	monthDay := t.Format("01-02")
	fullDate := t.Format("2006-01-02")

	for _, day := range presets[a.HolidayPreset] {
		if day == monthDay {
			return true
		}
	}

	for _, day := range a.CustomHolidays {
		if day == fullDate {
			return true
		}
	}

	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(clock string) (int, bool) {
	var hour, minute int

	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return 0, false
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}

	return hour*60 + minute, true
}

// atClock returns t's date at the given minutes-since-midnight.
func atClock(t time.Time, minutes int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), minutes/60, minutes%60, 0, 0, t.Location())
}
