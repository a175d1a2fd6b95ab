package relay

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/a-essam23/pairpad/pkg/session"
)

// Transport is the slice of a live connection the relay needs: an identity,
// an ordered outbound queue, and a way to hang up.
type Transport interface {
	ID() uuid.UUID
	Send(msg []byte)
	Close(err error)
}

// minClientIDLen is the entropy floor for trusting a caller-supplied durable
// client identifier. Anything shorter gets a minted one.
const minClientIDLen = 16

// Identity is the resolved durable identity behind a connection.
type Identity struct {
	ClientID    string
	DisplayName string
}

// ResolveClientID trusts a caller-supplied id only if it is long enough to
// plausibly be unique; otherwise it mints a fresh one.
func ResolveClientID(supplied string) string {
	supplied = strings.TrimSpace(supplied)
	if len(supplied) >= minClientIDLen {
		return supplied
	}
	return uuid.NewString()
}

// DefaultDisplayName derives a placeholder name from a connection id.
func DefaultDisplayName(connID uuid.UUID) string {
	s := connID.String()
	return "User " + s[len(s)-4:]
}

type connEntry struct {
	transport Transport
	clientID  string
	name      string
	roomCode  string // "" while unbound
}

// ConnManager tracks live connections, their resolved identities, and which
// room (at most one) each is currently bound to. It owns no room state.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*connEntry

	logger *slog.Logger
}

func NewConnManager(logger *slog.Logger) *ConnManager {
	return &ConnManager{
		conns:  make(map[uuid.UUID]*connEntry),
		logger: logger.With(slog.String("component", "conn_manager")),
	}
}

// Register records a new live connection with its resolved identity.
func (m *ConnManager) Register(t Transport, clientID, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[t.ID()] = &connEntry{
		transport: t,
		clientID:  clientID,
		name:      session.SanitizeName(displayName, DefaultDisplayName(t.ID())),
	}
	m.logger.Debug("Connection registered",
		slog.String("connID", t.ID().String()), slog.String("clientID", clientID))
}

// Deregister drops a connection and reports the room it was bound to.
func (m *ConnManager) Deregister(connID uuid.UUID) (roomCode string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.conns[connID]
	if !exists {
		return "", false
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return entry.roomCode, true
}

func (m *ConnManager) Identity(connID uuid.UUID) (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.conns[connID]
	if !ok {
		return Identity{}, false
	}
	return Identity{ClientID: entry.clientID, DisplayName: entry.name}, true
}

func (m *ConnManager) SetDisplayName(connID uuid.UUID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.conns[connID]; ok {
		entry.name = name
	}
}

// RoomOf returns the room a connection is bound to, or "".
func (m *ConnManager) RoomOf(connID uuid.UUID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, ok := m.conns[connID]; ok {
		return entry.roomCode
	}
	return ""
}

// BindRoom binds a connection to a room, implicitly replacing any prior
// binding. Returns the previous room code.
func (m *ConnManager) BindRoom(connID uuid.UUID, code string) (previous string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[connID]
	if !ok {
		return ""
	}
	previous = entry.roomCode
	entry.roomCode = code
	return previous
}

// UnbindRoom clears a connection's room binding.
func (m *ConnManager) UnbindRoom(connID uuid.UUID) (previous string) {
	return m.BindRoom(connID, "")
}

func (m *ConnManager) Transport(connID uuid.UUID) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	return entry.transport, true
}

// RoomTransports returns the transports of every connection bound to code,
// excluding the given connection id if any.
func (m *ConnManager) RoomTransports(code string, exclude *uuid.UUID) []Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Transport
	for id, entry := range m.conns {
		if entry.roomCode != code {
			continue
		}
		if exclude != nil && id == *exclude {
			continue
		}
		out = append(out, entry.transport)
	}
	return out
}

// LiveSize is the authoritative count of live connections bound to a room.
func (m *ConnManager) LiveSize(code string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.conns {
		if entry.roomCode == code {
			n++
		}
	}
	return n
}

// ClientLive reports whether a participant has a live connection in a room.
func (m *ConnManager) ClientLive(code, clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.conns {
		if entry.roomCode == code && entry.clientID == clientID {
			return true
		}
	}
	return false
}

// Count returns the number of live connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All returns every live transport, for shutdown sweeps.
func (m *ConnManager) All() []Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transport, 0, len(m.conns))
	for _, entry := range m.conns {
		out = append(out, entry.transport)
	}
	return out
}
