package recurrence

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	// Embedded zone database so IANA lookups work in minimal containers.
	_ "time/tzdata"
)

var reTimeOfDay = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// ParseTimeOfDay parses strict "HH:MM" (hour 00-23, minute 00-59).
// Anything else reports ok=false and callers treat the time as absent.
func ParseTimeOfDay(raw string) (hour, minute int, ok bool) {
	m := reTimeOfDay.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, true
}

// LoadLocation resolves an IANA zone name, falling back to def (or UTC) when
// the name is empty or unknown.
func LoadLocation(tz string, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return def
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return def
	}
	return loc
}
