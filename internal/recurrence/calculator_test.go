package recurrence

import (
	"testing"
	"time"

	"remindbot/internal/reminder"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestNextScheduleKinds(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	utc := time.UTC

	tests := []struct {
		name  string
		sched reminder.Schedule
		tz    string
		now   time.Time
		prev  *time.Time
		want  time.Time
		ok    bool
	}{
		{
			name:  "once has no next",
			sched: reminder.Once(),
			now:   time.Date(2025, 1, 1, 0, 0, 0, 0, utc),
		},
		{
			name:  "interval is duration based",
			sched: reminder.Interval(15),
			tz:    "Asia/Kolkata",
			now:   time.Date(2025, 3, 9, 7, 59, 30, 0, utc),
			want:  time.Date(2025, 3, 9, 8, 14, 30, 0, utc),
			ok:    true,
		},
		{
			name:  "daily later today",
			sched: reminder.Daily(1, "18:30"),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 2, 9, 0, 0, 0, chicago),
			want:  time.Date(2025, 6, 2, 18, 30, 0, 0, chicago),
			ok:    true,
		},
		{
			name:  "daily with step skips days",
			sched: reminder.Daily(3, "08:00"),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 2, 9, 0, 0, 0, chicago),
			want:  time.Date(2025, 6, 5, 8, 0, 0, 0, chicago),
			ok:    true,
		},
		{
			name:  "daily exactly at slot advances",
			sched: reminder.Daily(1, "09:00"),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 2, 9, 0, 0, 0, chicago),
			want:  time.Date(2025, 6, 3, 9, 0, 0, 0, chicago),
			ok:    true,
		},
		{
			name:  "weekly mon wed from thursday",
			sched: reminder.Weekly("09:00", time.Monday, time.Wednesday),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 5, 10, 0, 0, 0, chicago), // Thursday
			want:  time.Date(2025, 6, 9, 9, 0, 0, 0, chicago),  // Monday
			ok:    true,
		},
		{
			name:  "weekly same day later",
			sched: reminder.Weekly("20:00", time.Thursday),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 5, 10, 0, 0, 0, chicago),
			want:  time.Date(2025, 6, 5, 20, 0, 0, 0, chicago),
			ok:    true,
		},
		{
			name:  "weekly single day already passed rolls a week",
			sched: reminder.Weekly("09:00", time.Thursday),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 5, 10, 0, 0, 0, chicago),
			want:  time.Date(2025, 6, 12, 9, 0, 0, 0, chicago),
			ok:    true,
		},
		{
			name:  "weekly empty set uses today",
			sched: reminder.Weekly("11:00"),
			tz:    "America/Chicago",
			now:   time.Date(2025, 6, 5, 10, 0, 0, 0, chicago),
			want:  time.Date(2025, 6, 5, 11, 0, 0, 0, chicago),
			ok:    true,
		},
		{
			name:  "monthly clamps to april 30",
			sched: reminder.Monthly(1, 31, "09:00"),
			tz:    "UTC",
			now:   time.Date(2025, 4, 10, 12, 0, 0, 0, utc),
			want:  time.Date(2025, 4, 30, 9, 0, 0, 0, utc),
			ok:    true,
		},
		{
			name:  "monthly clamps february",
			sched: reminder.Monthly(1, 31, "09:00"),
			tz:    "UTC",
			now:   time.Date(2025, 1, 31, 10, 0, 0, 0, utc),
			want:  time.Date(2025, 2, 28, 9, 0, 0, 0, utc),
			ok:    true,
		},
		{
			name:  "monthly step crosses year",
			sched: reminder.Monthly(2, 15, "07:45"),
			tz:    "UTC",
			now:   time.Date(2025, 11, 20, 0, 0, 0, 0, utc),
			want:  time.Date(2026, 1, 15, 7, 45, 0, 0, utc),
			ok:    true,
		},
		{
			name:  "yearly leap day falls back in common year",
			sched: reminder.Yearly(1, 2, 29, "10:00"),
			tz:    "UTC",
			now:   time.Date(2025, 3, 1, 0, 0, 0, 0, utc),
			want:  time.Date(2026, 2, 28, 10, 0, 0, 0, utc),
			ok:    true,
		},
		{
			name:  "yearly leap day kept in leap year",
			sched: reminder.Yearly(1, 2, 29, "10:00"),
			tz:    "UTC",
			now:   time.Date(2028, 1, 5, 0, 0, 0, 0, utc),
			want:  time.Date(2028, 2, 29, 10, 0, 0, 0, utc),
			ok:    true,
		},
		{
			name:  "yearly step",
			sched: reminder.Yearly(4, 7, 1, "00:00"),
			tz:    "UTC",
			now:   time.Date(2025, 8, 1, 0, 0, 0, 0, utc),
			want:  time.Date(2029, 7, 1, 0, 0, 0, 0, utc),
			ok:    true,
		},
		{
			name:  "monthly invalid anchor is malformed",
			sched: reminder.Monthly(1, 0, "09:00"),
			now:   time.Date(2025, 4, 10, 12, 0, 0, 0, utc),
		},
		{
			name:  "interval without minutes is malformed",
			sched: reminder.Interval(0),
			now:   time.Date(2025, 4, 10, 12, 0, 0, 0, utc),
		},
		{
			name:  "unknown kind is malformed",
			sched: reminder.Schedule{Kind: "cron"},
			now:   time.Date(2025, 4, 10, 12, 0, 0, 0, utc),
		},
	}

	calc := New("UTC")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := calc.Next(tt.sched, tt.tz, tt.now, tt.prev)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tt.ok, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDailyKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	calc := New("UTC")
	// 2025-03-09 is the spring-forward day in New York.
	now := time.Date(2025, 3, 8, 10, 0, 0, 0, ny)
	got, ok := calc.Next(reminder.Daily(1, "09:00"), "America/New_York", now, nil)
	if !ok {
		t.Fatal("expected next occurrence")
	}
	want := time.Date(2025, 3, 9, 9, 0, 0, 0, ny)
	if !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
	if got.Sub(now) != 22*time.Hour {
		t.Fatalf("elapsed = %v, want 22h (23h wall-clock minus the skipped hour)", got.Sub(now))
	}
}

func TestNextTimeOfDayDefaults(t *testing.T) {
	t.Parallel()
	calc := New("Europe/Berlin")
	berlin := mustLoc(t, "Europe/Berlin")
	now := time.Date(2025, 5, 1, 6, 0, 0, 0, berlin)

	got, ok := calc.Next(reminder.Daily(1, ""), "", now, nil)
	if !ok || !got.Equal(time.Date(2025, 5, 1, 9, 0, 0, 0, berlin)) {
		t.Fatalf("default time of day: got %v ok=%v", got, ok)
	}

	prev := time.Date(2025, 4, 30, 19, 15, 0, 0, berlin).UTC()
	got, ok = calc.Next(reminder.Daily(1, "25:99"), "Europe/Berlin", now, &prev)
	if !ok || !got.Equal(time.Date(2025, 5, 1, 19, 15, 0, 0, berlin)) {
		t.Fatalf("time of day from prev: got %v ok=%v", got, ok)
	}
}

func TestNextInvalidTimezoneUsesDefault(t *testing.T) {
	t.Parallel()
	tokyo := mustLoc(t, "Asia/Tokyo")
	calc := New("Asia/Tokyo")
	now := time.Date(2025, 5, 1, 6, 0, 0, 0, tokyo)
	got, ok := calc.Next(reminder.Daily(1, "07:00"), "Mars/Olympus", now, nil)
	if !ok || !got.Equal(time.Date(2025, 5, 1, 7, 0, 0, 0, tokyo)) {
		t.Fatalf("got %v ok=%v", got, ok)
	}
}

func TestNextIsDeterministic(t *testing.T) {
	t.Parallel()
	calc := New("UTC")
	now := time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)
	prev := now.Add(-time.Hour)
	scheds := []reminder.Schedule{
		reminder.Interval(90),
		reminder.Daily(2, "00:30"),
		reminder.Weekly("", time.Saturday, time.Sunday),
		reminder.Monthly(3, 29, ""),
		reminder.Yearly(1, 2, 29, "12:00"),
	}
	for _, s := range scheds {
		a, okA := calc.Next(s, "Australia/Sydney", now, &prev)
		b, okB := calc.Next(s, "Australia/Sydney", now, &prev)
		if okA != okB || !a.Equal(b) {
			t.Fatalf("%s: not deterministic: %v/%v vs %v/%v", s.Kind, a, okA, b, okB)
		}
		if okA && !a.After(now) {
			t.Fatalf("%s: next %v not after now %v", s.Kind, a, now)
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	valid := map[string][2]int{"00:00": {0, 0}, "09:05": {9, 5}, "23:59": {23, 59}}
	for raw, want := range valid {
		h, m, ok := ParseTimeOfDay(raw)
		if !ok || h != want[0] || m != want[1] {
			t.Fatalf("ParseTimeOfDay(%q) = %d:%d ok=%v", raw, h, m, ok)
		}
	}
	for _, raw := range []string{"", "24:00", "12:60", "9:00", "0900", "12:00:00", "ab:cd"} {
		if _, _, ok := ParseTimeOfDay(raw); ok {
			t.Fatalf("ParseTimeOfDay(%q) should fail", raw)
		}
	}
}

func TestDaysIn(t *testing.T) {
	t.Parallel()
	if DaysIn(2024, time.February) != 29 || DaysIn(2025, time.February) != 28 || DaysIn(2025, time.April) != 30 {
		t.Fatal("unexpected month lengths")
	}
}
