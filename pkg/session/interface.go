package session

import "context"

// Registry is the authoritative owner of Room and Participant lifetime.
// Implementations must make each operation atomic with respect to the others;
// the relay additionally serializes mutations per room, so read-modify-write
// backends are acceptable.
//
// All operations returning a *Room return a snapshot the caller owns.
type Registry interface {
	// CreateRoom allocates a fresh code and inserts an active room with a
	// single creator participant and empty content.
	CreateRoom(ctx context.Context, creatorID, creatorName string) (*Room, error)

	// FindActiveRoom looks up a room by canonicalized code. Inactive and
	// deleted rooms are reported as ErrSessionNotFound.
	FindActiveRoom(ctx context.Context, code string) (*Room, error)

	// UpsertParticipant inserts or updates the participant with the given
	// clientID. A creator re-join reactivates a room that was deactivated by
	// the creator's absence; reactivated reports that transition so callers
	// can restore derived state. Bumps LastActivityAt.
	UpsertParticipant(ctx context.Context, code, clientID, name string) (room *Room, reactivated bool, err error)

	// SetContent replaces the room's shared buffer. Fails with
	// ErrContentTooLarge beyond MaxContentBytes, leaving content unchanged.
	SetContent(ctx context.Context, code, text string) (*Room, error)

	// RenameParticipant updates a member's display name (already sanitized
	// by the caller; implementations still clamp defensively).
	RenameParticipant(ctx context.Context, code, clientID, name string) (*Room, error)

	// RemoveParticipant handles a permanent leave. Returns the surviving
	// room (nil if deleted) and whether the room was deleted outright:
	// creator leaves and no guest ever joined -> delete, code freed;
	// creator leaves after a guest joined -> retain with Active=false;
	// guest leaves -> remove from roster, room stays active.
	RemoveParticipant(ctx context.Context, code, clientID string) (*Room, bool, error)

	// ActiveRooms lists all currently active rooms, for diagnostics only.
	ActiveRooms(ctx context.Context) ([]*Room, error)

	Close() error
}
