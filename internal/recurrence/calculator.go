package recurrence

import (
	"time"

	"remindbot/internal/reminder"
)

const (
	defaultHour   = 9
	defaultMinute = 0

	// maxSteps bounds the advance loops; a schedule that needs more is malformed.
	maxSteps = 1000
)

// Calculator computes next occurrences. The zero value uses UTC as the
// fallback zone.
type Calculator struct {
	DefaultLocation *time.Location
}

// New returns a Calculator whose fallback zone is defaultTZ (UTC if invalid).
func New(defaultTZ string) Calculator {
	return Calculator{DefaultLocation: LoadLocation(defaultTZ, time.UTC)}
}

// Location resolves tz against the calculator's fallback zone.
func (c Calculator) Location(tz string) *time.Location {
	return LoadLocation(tz, c.DefaultLocation)
}

// Next returns the first occurrence of s strictly after now.
//
// prev is the previously planned run (may be nil); its wall-clock hour and
// minute are reused when the schedule carries no valid time of day.
// ok is false for once schedules and for schedules that cannot be advanced.
func (c Calculator) Next(s reminder.Schedule, tz string, now time.Time, prev *time.Time) (next time.Time, ok bool) {
	loc := c.Location(tz)
	switch s.Kind {
	case reminder.KindInterval:
		if s.Minutes <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(s.Minutes) * time.Minute), true
	case reminder.KindDaily:
		hh, mm := timeOfDay(s, loc, prev)
		return nextDaily(s.StepOrDefault(), hh, mm, loc, now)
	case reminder.KindWeekly:
		hh, mm := timeOfDay(s, loc, prev)
		return nextWeekly(s.Weekdays, hh, mm, loc, now)
	case reminder.KindMonthly:
		if s.AnchorDay < 1 || s.AnchorDay > 31 {
			return time.Time{}, false
		}
		hh, mm := timeOfDay(s, loc, prev)
		local := now.In(loc)
		return nextByMonths(local.Year(), int(local.Month()), s.StepOrDefault(), s.AnchorDay, hh, mm, loc, now)
	case reminder.KindYearly:
		if s.AnchorMonth < 1 || s.AnchorMonth > 12 || s.AnchorDay < 1 || s.AnchorDay > 31 {
			return time.Time{}, false
		}
		hh, mm := timeOfDay(s, loc, prev)
		local := now.In(loc)
		return nextByMonths(local.Year(), s.AnchorMonth, 12*s.StepOrDefault(), s.AnchorDay, hh, mm, loc, now)
	default:
		return time.Time{}, false
	}
}

func timeOfDay(s reminder.Schedule, loc *time.Location, prev *time.Time) (int, int) {
	if hh, mm, ok := ParseTimeOfDay(s.TimeOfDay); ok {
		return hh, mm
	}
	if prev != nil && !prev.IsZero() {
		p := prev.In(loc)
		return p.Hour(), p.Minute()
	}
	return defaultHour, defaultMinute
}

func nextDaily(step, hh, mm int, loc *time.Location, now time.Time) (time.Time, bool) {
	local := now.In(loc)
	y, m, d := local.Date()
	cand := time.Date(y, m, d, hh, mm, 0, 0, loc)
	for i := 0; !cand.After(now); i++ {
		if i >= maxSteps {
			return time.Time{}, false
		}
		d += step
		cand = time.Date(y, m, d, hh, mm, 0, 0, loc)
	}
	return cand, true
}

func nextWeekly(days []time.Weekday, hh, mm int, loc *time.Location, now time.Time) (time.Time, bool) {
	local := now.In(loc)
	var set [7]bool
	hasTarget := false
	for _, wd := range days {
		if wd >= time.Sunday && wd <= time.Saturday {
			set[wd] = true
			hasTarget = true
		}
	}
	if !hasTarget {
		set[local.Weekday()] = true
	}

	y, m, d := local.Date()
	for i := 0; i < 7; i++ {
		cand := time.Date(y, m, d+i, hh, mm, 0, 0, loc)
		if set[cand.Weekday()] && cand.After(now) {
			return cand, true
		}
	}
	// Only reachable when today is the single target day and its slot has passed.
	return time.Date(y, m, d+7, hh, mm, 0, 0, loc), true
}

// nextByMonths walks forward from (year, month) in steps of stepMonths until
// the clamped anchor day at hh:mm is strictly after now.
func nextByMonths(year, month, stepMonths, anchorDay, hh, mm int, loc *time.Location, now time.Time) (time.Time, bool) {
	idx := year*12 + (month - 1)
	cand := clampedDate(idx, anchorDay, hh, mm, loc)
	for i := 0; !cand.After(now); i++ {
		if i >= maxSteps {
			return time.Time{}, false
		}
		idx += stepMonths
		cand = clampedDate(idx, anchorDay, hh, mm, loc)
	}
	return cand, true
}

// clampedDate builds the date for month index idx (year*12 + month0) with the
// day clamped to the month's last valid day.
func clampedDate(idx, day, hh, mm int, loc *time.Location) time.Time {
	y, m := idx/12, time.Month(idx%12+1)
	if last := DaysIn(y, m); day > last {
		day = last
	}
	return time.Date(y, m, day, hh, mm, 0, 0, loc)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
