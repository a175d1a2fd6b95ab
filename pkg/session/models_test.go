package session_test

import (
	"strings"
	"testing"

	"github.com/a-essam23/pairpad/pkg/session"
)

func TestCanonicalCode(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"abc234", "ABC234"},
		{"  AbC234 ", "ABC234"},
		{"ABC234", "ABC234"},
	}
	for _, c := range cases {
		if got := session.CanonicalCode(c.in); got != c.want {
			t.Errorf("CanonicalCode(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := session.SanitizeName("  Ana ", "fallback"); got != "Ana" {
		t.Errorf("Expected trimmed name, got %q", got)
	}
	if got := session.SanitizeName("   ", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback for blank name, got %q", got)
	}
	long := strings.Repeat("x", 100)
	if got := session.SanitizeName(long, "fallback"); len(got) != session.MaxNameRunes {
		t.Errorf("Expected clamp to %d, got %d", session.MaxNameRunes, len(got))
	}
}

func TestRoomParticipantLookup(t *testing.T) {
	room := &session.Room{
		Participants: []*session.Participant{
			{ClientID: "a", DisplayName: "Ana"},
			{ClientID: "b", DisplayName: "Ben"},
		},
	}
	if p := room.Participant("b"); p == nil || p.DisplayName != "Ben" {
		t.Error("Participant lookup by clientID failed")
	}
	if p := room.Participant("c"); p != nil {
		t.Error("Expected nil for unknown clientID")
	}
}
