package action

import "testing"

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Token
	}{
		{name: "done", raw: "rem:done:abc", want: Token{Kind: KindDone, ID: "abc"}},
		{name: "snooze", raw: "rem:sz:abc:15", want: Token{Kind: KindSnooze, ID: "abc", Minutes: 15}},
		{name: "surrounding space", raw: " rem:done:abc ", want: Token{Kind: KindDone, ID: "abc"}},
		{name: "foreign namespace", raw: "plug:done:abc"},
		{name: "unknown verb", raw: "rem:del:abc"},
		{name: "missing id", raw: "rem:done:"},
		{name: "done with param", raw: "rem:done:abc:5"},
		{name: "snooze without minutes", raw: "rem:sz:abc"},
		{name: "snooze non numeric", raw: "rem:sz:abc:ten"},
		{name: "snooze zero", raw: "rem:sz:abc:0"},
		{name: "snooze negative", raw: "rem:sz:abc:-5"},
		{name: "snooze too long", raw: "rem:sz:abc:999999"},
		{name: "empty", raw: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.raw); got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTokenEncoders(t *testing.T) {
	t.Parallel()
	if got := DoneToken("r1"); got != "rem:done:r1" {
		t.Fatalf("DoneToken = %q", got)
	}
	if got := SnoozeToken("r1", 60); got != "rem:sz:r1:60" {
		t.Fatalf("SnoozeToken = %q", got)
	}
	if tok := Parse(SnoozeToken("r1", 60)); tok.Kind != KindSnooze || tok.Minutes != 60 {
		t.Fatalf("encoded snooze does not parse back: %+v", tok)
	}
	// Callback data is limited to 64 bytes; a uuid id must fit.
	if n := len(SnoozeToken("123e4567-e89b-12d3-a456-426614174000", MaxSnoozeMinutes)); n > 64 {
		t.Fatalf("token length %d exceeds 64", n)
	}
}

func TestHasNamespace(t *testing.T) {
	t.Parallel()
	if !HasNamespace("rem:garbage") {
		t.Fatal("rem: prefix must be claimed")
	}
	if HasNamespace("remind:done:1") {
		t.Fatal("remind: is a different namespace")
	}
}
