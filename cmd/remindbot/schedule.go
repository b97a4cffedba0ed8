package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
)

// scheduleFlags mirrors the add command's schedule flags.
type scheduleFlags struct {
	Kind  string
	Every int    // interval minutes
	Step  int    // days, months or years
	Time  string // HH:MM
	Days  string // weekly: "mon,thu"
	Day   int    // monthly/yearly anchor day
	Month int    // yearly anchor month
	At    string // first run, "2006-01-02 15:04" in the reminder's zone
}

const atLayout = "2006-01-02 15:04"

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(raw string) ([]time.Weekday, error) {
	var out []time.Weekday
	seen := map[time.Weekday]bool{}
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		d, ok := weekdayNames[p[:min(3, len(p))]]
		if !ok {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 || n > 6 {
				return nil, fmt.Errorf("invalid weekday %q", part)
			}
			d = time.Weekday(n)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

func (f scheduleFlags) schedule() (reminder.Schedule, error) {
	if f.Time != "" {
		if _, _, ok := recurrence.ParseTimeOfDay(f.Time); !ok {
			return reminder.Schedule{}, fmt.Errorf("--time must be HH:MM, got %q", f.Time)
		}
	}
	var s reminder.Schedule
	switch reminder.Kind(strings.ToLower(strings.TrimSpace(f.Kind))) {
	case reminder.KindOnce:
		if f.At == "" {
			return reminder.Schedule{}, fmt.Errorf("--at is required for once reminders")
		}
		s = reminder.Once()
	case reminder.KindInterval:
		s = reminder.Interval(f.Every)
	case reminder.KindDaily:
		s = reminder.Daily(f.Step, f.Time)
	case reminder.KindWeekly:
		days, err := parseWeekdays(f.Days)
		if err != nil {
			return reminder.Schedule{}, err
		}
		s = reminder.Weekly(f.Time, days...)
	case reminder.KindMonthly:
		s = reminder.Monthly(f.Step, f.Day, f.Time)
	case reminder.KindYearly:
		s = reminder.Yearly(f.Step, f.Month, f.Day, f.Time)
	default:
		return reminder.Schedule{}, fmt.Errorf("unknown --kind %q (once, interval, daily, weekly, monthly, yearly)", f.Kind)
	}
	if err := s.Validate(); err != nil {
		return reminder.Schedule{}, err
	}
	return s, nil
}

// firstRun is --at in the reminder's zone, or the next occurrence after now.
func (f scheduleFlags) firstRun(calc recurrence.Calculator, s reminder.Schedule, tz string, now time.Time) (time.Time, error) {
	if f.At != "" {
		at, err := time.ParseInLocation(atLayout, strings.TrimSpace(f.At), calc.Location(tz))
		if err != nil {
			return time.Time{}, fmt.Errorf("--at must look like %q: %w", atLayout, err)
		}
		return at, nil
	}
	next, ok := calc.Next(s, tz, now, nil)
	if !ok {
		return time.Time{}, fmt.Errorf("schedule %s has no upcoming occurrence", s.Describe())
	}
	return next, nil
}
