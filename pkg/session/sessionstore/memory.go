package sessionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/session/codegen"
)

// Memory is the single-process session.Registry. Rooms live in a map keyed
// by canonical code; one mutex guards the map because every operation is
// O(1) or O(participants-in-room) and never blocks on I/O.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]*session.Room

	gen        *codegen.Generator
	maxContent int
	logger     *slog.Logger
}

func NewMemory(logger *slog.Logger, gen *codegen.Generator, maxContent int) *Memory {
	if maxContent <= 0 {
		maxContent = session.MaxContentBytes
	}
	return &Memory{
		rooms:      make(map[string]*session.Room),
		gen:        gen,
		maxContent: maxContent,
		logger:     logger.With(slog.String("component", "sessionstore_memory")),
	}
}

// compile-time check to ensure Memory implements Registry.
var _ session.Registry = (*Memory)(nil)

func (m *Memory) CreateRoom(ctx context.Context, creatorID, creatorName string) (*session.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A code is taken while any room record still holds it, active or
	// retained; destroyed rooms free their codes.
	code, err := m.gen.Generate(func(code string) bool {
		_, exists := m.rooms[code]
		return exists
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	room := &session.Room{
		Code:      code,
		CreatorID: creatorID,
		Participants: []*session.Participant{{
			ClientID:    creatorID,
			DisplayName: creatorName,
			Role:        session.RoleCreator,
			JoinedAt:    now,
		}},
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.rooms[code] = room
	m.logger.Debug("Room created", slog.String("code", code), slog.String("creator", creatorID))
	return room.Clone(), nil
}

func (m *Memory) FindActiveRoom(ctx context.Context, code string) (*session.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[session.CanonicalCode(code)]
	if !ok || !room.Active {
		return nil, session.ErrSessionNotFound
	}
	return room.Clone(), nil
}

func (m *Memory) UpsertParticipant(ctx context.Context, code, clientID, name string) (*session.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[session.CanonicalCode(code)]
	if !ok {
		return nil, false, session.ErrSessionNotFound
	}

	now := time.Now()
	reactivated := false
	if p := room.Participant(clientID); p != nil {
		// Re-join with a known identity resumes the existing participant.
		p.DisplayName = name
		if clientID == room.CreatorID && !room.Active {
			room.Active = true
			reactivated = true
			m.logger.Debug("Room reactivated by creator re-join", slog.String("code", room.Code))
		}
	} else {
		// New identities only enter through active rooms; a deactivated
		// room is invisible to joins until the creator returns.
		if !room.Active {
			return nil, false, session.ErrSessionNotFound
		}
		room.Participants = append(room.Participants, &session.Participant{
			ClientID:    clientID,
			DisplayName: name,
			Role:        session.RoleGuest,
			JoinedAt:    now,
		})
		room.GuestJoined = true
		m.logger.Debug("Guest joined room", slog.String("code", room.Code), slog.String("clientID", clientID))
	}
	room.LastActivityAt = now
	return room.Clone(), reactivated, nil
}

func (m *Memory) SetContent(ctx context.Context, code, text string) (*session.Room, error) {
	if len(text) > m.maxContent {
		return nil, session.ErrContentTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[session.CanonicalCode(code)]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	room.Content = text
	room.LastActivityAt = time.Now()
	return room.Clone(), nil
}

func (m *Memory) RenameParticipant(ctx context.Context, code, clientID, name string) (*session.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[session.CanonicalCode(code)]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	p := room.Participant(clientID)
	if p == nil {
		return nil, session.ErrParticipantNotFound
	}
	p.DisplayName = session.SanitizeName(name, p.DisplayName)
	room.LastActivityAt = time.Now()
	return room.Clone(), nil
}

func (m *Memory) RemoveParticipant(ctx context.Context, code, clientID string) (*session.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	canonical := session.CanonicalCode(code)
	room, ok := m.rooms[canonical]
	if !ok {
		return nil, false, session.ErrSessionNotFound
	}

	if clientID == room.CreatorID {
		if !room.GuestJoined {
			// Nobody ever joined; destroy the room and free the code.
			delete(m.rooms, canonical)
			m.logger.Debug("Room deleted, creator left before any guest", slog.String("code", canonical))
			return nil, true, nil
		}
		// A guest has state here; retain the room but stop serving joins
		// until the creator returns.
		room.Active = false
		room.LastActivityAt = time.Now()
		m.logger.Debug("Room deactivated, creator left", slog.String("code", canonical))
		return room.Clone(), false, nil
	}

	for i, p := range room.Participants {
		if p.ClientID == clientID {
			room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
			break
		}
	}
	room.LastActivityAt = time.Now()
	m.logger.Debug("Guest left room", slog.String("code", canonical), slog.String("clientID", clientID))
	return room.Clone(), false, nil
}

func (m *Memory) ActiveRooms(ctx context.Context) ([]*session.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*session.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		if room.Active {
			rooms = append(rooms, room.Clone())
		}
	}
	return rooms, nil
}

func (m *Memory) Close() error { return nil }
