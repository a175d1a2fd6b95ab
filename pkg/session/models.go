package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentBytes is the hard cap on a room's shared buffer.
const MaxContentBytes = 1 << 20 // 1 MiB

// MaxNameRunes caps a participant display name after trimming.
const MaxNameRunes = 32

type Role string

const (
	RoleCreator Role = "creator"
	RoleGuest   Role = "guest"
)

// Participant is one durable member of a room. Identity is the clientID,
// which survives transport reconnects; the live connection (if any) is
// tracked by the relay, not here.
type Participant struct {
	ClientID    string
	DisplayName string
	Role        Role
	JoinedAt    time.Time
}

// Room is one collaborative session, keyed by its connection code.
type Room struct {
	Code      string
	Content   string
	CreatorID string
	// Participants is ordered by join time, creator first, unique by ClientID.
	Participants []*Participant
	// GuestJoined records whether any guest has ever joined. It drives the
	// retain-vs-delete decision when the creator leaves.
	GuestJoined    bool
	Active         bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Participant returns the member with the given clientID, or nil.
func (r *Room) Participant(clientID string) *Participant {
	for _, p := range r.Participants {
		if p.ClientID == clientID {
			return p
		}
	}
	return nil
}

// Clone returns a deep copy. Registries hand out clones so callers can read
// room state without holding registry locks.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Participants = make([]*Participant, len(r.Participants))
	for i, p := range r.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	return &cp
}

// CanonicalCode normalizes a user-typed code for lookup. Codes compare
// case-insensitively; upper case is the canonical form.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SanitizeName trims and clamps a display name, falling back when empty.
func SanitizeName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if utf8.RuneCountInString(name) > MaxNameRunes {
		runes := []rune(name)
		name = string(runes[:MaxNameRunes])
	}
	return name
}
