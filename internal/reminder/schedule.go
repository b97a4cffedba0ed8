package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindMonthly  Kind = "monthly"
	KindYearly   Kind = "yearly"
)

// Schedule is a tagged union: Kind selects which of the remaining fields apply.
//
//	once      -
//	interval  Minutes
//	daily     Step (days), TimeOfDay
//	weekly    Weekdays, TimeOfDay
//	monthly   Step (months), AnchorDay, TimeOfDay
//	yearly    Step (years), AnchorMonth, AnchorDay, TimeOfDay
//
// TimeOfDay is "HH:MM"; an empty or malformed value means "not set".
type Schedule struct {
	Kind        Kind           `json:"kind"`
	Minutes     int            `json:"minutes,omitempty"`
	Step        int            `json:"step,omitempty"`
	Weekdays    []time.Weekday `json:"weekdays,omitempty"`
	AnchorMonth int            `json:"anchor_month,omitempty"`
	AnchorDay   int            `json:"anchor_day,omitempty"`
	TimeOfDay   string         `json:"time_of_day,omitempty"`
}

func Once() Schedule { return Schedule{Kind: KindOnce} }

func Interval(minutes int) Schedule { return Schedule{Kind: KindInterval, Minutes: minutes} }

func Daily(stepDays int, tod string) Schedule {
	return Schedule{Kind: KindDaily, Step: stepDays, TimeOfDay: tod}
}

func Weekly(tod string, days ...time.Weekday) Schedule {
	return Schedule{Kind: KindWeekly, Weekdays: days, TimeOfDay: tod}
}

func Monthly(stepMonths, anchorDay int, tod string) Schedule {
	return Schedule{Kind: KindMonthly, Step: stepMonths, AnchorDay: anchorDay, TimeOfDay: tod}
}

func Yearly(stepYears, month, day int, tod string) Schedule {
	return Schedule{Kind: KindYearly, Step: stepYears, AnchorMonth: month, AnchorDay: day, TimeOfDay: tod}
}

// StepOrDefault returns the positive step count, defaulting to 1.
func (s Schedule) StepOrDefault() int {
	if s.Step <= 0 {
		return 1
	}
	return s.Step
}

// Validate reports structural problems. The calculator tolerates most of them
// (defaults are substituted), so this is used at creation time only.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindOnce:
		return nil
	case KindInterval:
		if s.Minutes <= 0 {
			return fmt.Errorf("interval: minutes must be > 0")
		}
	case KindDaily:
		if s.Step < 0 {
			return fmt.Errorf("daily: step must be > 0")
		}
	case KindWeekly:
		for _, d := range s.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekly: invalid weekday %d", d)
			}
		}
	case KindMonthly:
		if s.Step < 0 {
			return fmt.Errorf("monthly: step must be > 0")
		}
		if s.AnchorDay < 1 || s.AnchorDay > 31 {
			return fmt.Errorf("monthly: anchor day must be 1..31")
		}
	case KindYearly:
		if s.Step < 0 {
			return fmt.Errorf("yearly: step must be > 0")
		}
		if s.AnchorMonth < 1 || s.AnchorMonth > 12 {
			return fmt.Errorf("yearly: anchor month must be 1..12")
		}
		if s.AnchorDay < 1 || s.AnchorDay > 31 {
			return fmt.Errorf("yearly: anchor day must be 1..31")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Describe renders a short human summary, e.g. "weekly on Mon,Wed at 09:00".
func (s Schedule) Describe() string {
	at := ""
	if s.TimeOfDay != "" {
		at = " at " + s.TimeOfDay
	}
	switch s.Kind {
	case KindOnce:
		return "once"
	case KindInterval:
		return fmt.Sprintf("every %d min", s.Minutes)
	case KindDaily:
		if s.StepOrDefault() == 1 {
			return "daily" + at
		}
		return fmt.Sprintf("every %d days%s", s.StepOrDefault(), at)
	case KindWeekly:
		days := append([]time.Weekday(nil), s.Weekdays...)
		sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
		names := make([]string, 0, len(days))
		for _, d := range days {
			names = append(names, d.String()[:3])
		}
		return "weekly on " + strings.Join(names, ",") + at
	case KindMonthly:
		return fmt.Sprintf("every %d month(s) on day %d%s", s.StepOrDefault(), s.AnchorDay, at)
	case KindYearly:
		return fmt.Sprintf("every %d year(s) on %s %d%s", s.StepOrDefault(), time.Month(s.AnchorMonth), s.AnchorDay, at)
	}
	return string(s.Kind)
}
