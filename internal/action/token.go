package action

import (
	"strconv"
	"strings"
)

// Namespace prefixes every reminder interaction token.
const Namespace = "rem"

const (
	verbDone   = "done"
	verbSnooze = "sz"
)

// MaxSnoozeMinutes caps a snooze at 30 days.
const MaxSnoozeMinutes = 30 * 24 * 60

type Kind int

const (
	KindUnrecognized Kind = iota
	KindDone
	KindSnooze
)

func (k Kind) String() string {
	switch k {
	case KindDone:
		return "done"
	case KindSnooze:
		return "snooze"
	default:
		return "unrecognized"
	}
}

// Token is a decoded interaction token. Minutes is set only for KindSnooze.
type Token struct {
	Kind    Kind
	ID      string
	Minutes int
}

func DoneToken(id string) string {
	return Namespace + ":" + verbDone + ":" + id
}

func SnoozeToken(id string, minutes int) string {
	return Namespace + ":" + verbSnooze + ":" + id + ":" + strconv.Itoa(minutes)
}

// Parse decodes rem:done:<id> and rem:sz:<id>:<minutes>. Anything else,
// including foreign namespaces, yields KindUnrecognized.
func Parse(raw string) Token {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 3 || parts[0] != Namespace || parts[2] == "" {
		return Token{}
	}
	id := parts[2]
	switch parts[1] {
	case verbDone:
		if len(parts) != 3 {
			return Token{}
		}
		return Token{Kind: KindDone, ID: id}
	case verbSnooze:
		if len(parts) != 4 {
			return Token{}
		}
		n, err := strconv.Atoi(parts[3])
		if err != nil || n <= 0 || n > MaxSnoozeMinutes {
			return Token{}
		}
		return Token{Kind: KindSnooze, ID: id, Minutes: n}
	}
	return Token{}
}

// HasNamespace reports whether data is addressed to this package, valid or not.
func HasNamespace(data string) bool {
	return strings.HasPrefix(strings.TrimSpace(data), Namespace+":")
}
