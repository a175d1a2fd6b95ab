package session

import "errors"

// Sentinel errors for the registry and code generator. Callers match with
// errors.Is; the relay maps them to caller-local error events and never
// tears down the connection over them.
var (
	// ErrInvalidCode means the supplied code has the wrong shape (length,
	// emptiness) before any lookup was attempted.
	ErrInvalidCode = errors.New("invalid connection code")

	// ErrSessionNotFound means the code does not resolve to an active room.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantNotFound means the room exists but the clientID does not.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrContentTooLarge means a content write exceeded MaxContentBytes.
	// The previous content is left untouched.
	ErrContentTooLarge = errors.New("content exceeds size cap")

	// ErrGenerationExhausted means the code generator could not find a free
	// code within its attempt budget.
	ErrGenerationExhausted = errors.New("code generation exhausted")

	// ErrBackendUnavailable wraps failures from a durable store backing the
	// registry. The in-memory registry never returns it.
	ErrBackendUnavailable = errors.New("session store unavailable")
)
