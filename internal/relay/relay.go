package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/a-essam23/pairpad/pkg/metrics"
	"github.com/a-essam23/pairpad/pkg/session"
)

// Options tune the engine; zero values fall back to spec defaults except the
// durations, where zero means "synchronous" / "disabled" (used by tests).
type Options struct {
	CodeLength  int
	SettleDelay time.Duration
	TypingClear time.Duration
}

type handlerFunc func(ctx context.Context, connID uuid.UUID, payload gjson.Result)

// Engine is the event-driven relay core: it receives intents from
// connections, mutates the registry, and decides fan-out targets. All
// mutations and their broadcasts for one room run under that room's lock,
// which gives room-local total order of delivered updates.
type Engine struct {
	logger   *slog.Logger
	registry session.Registry
	conns    *ConnManager
	presence *Presence

	codeLength  int
	typingClear time.Duration

	lockMu    sync.Mutex
	roomLocks map[string]*sync.Mutex

	typingMu     sync.Mutex
	typingTimers map[uuid.UUID]*time.Timer

	handlers map[string]handlerFunc
}

func NewEngine(logger *slog.Logger, registry session.Registry, conns *ConnManager, opts Options) *Engine {
	e := &Engine{
		logger:       logger.With(slog.String("component", "relay_engine")),
		registry:     registry,
		conns:        conns,
		presence:     NewPresence(conns, opts.SettleDelay),
		codeLength:   opts.CodeLength,
		typingClear:  opts.TypingClear,
		roomLocks:    make(map[string]*sync.Mutex),
		typingTimers: make(map[uuid.UUID]*time.Timer),
	}
	e.handlers = map[string]handlerFunc{
		EventSessionCreate: e.handleCreate,
		EventSessionJoin:   e.handleJoin,
		EventContentUpdate: e.handleContentUpdate,
		EventTyping:        e.handleTyping,
		EventUserRename:    e.handleRename,
		EventSessionLeave:  e.handleLeave,
	}
	return e
}

// Presence exposes live-size reads for the control plane.
func (e *Engine) Presence() *Presence { return e.presence }

// OnConnect registers the connection, resolves its durable identity, and
// announces identity + code configuration to the client.
func (e *Engine) OnConnect(t Transport, suppliedClientID, suppliedName string) {
	clientID := ResolveClientID(suppliedClientID)
	name := session.SanitizeName(suppliedName, DefaultDisplayName(t.ID()))
	e.conns.Register(t, clientID, name)
	metrics.OpenConnections.Inc()

	t.Send(encode(EventIdentity, identityPayload{
		ConnectionID: t.ID().String(),
		ClientID:     clientID,
		DisplayName:  name,
	}))
	t.Send(encode(EventCodeConfig, codeConfigPayload{CodeLength: e.codeLength}))
}

// HandleMessage is the transport's inbound callback. One malformed intent
// must never take the connection down, so dispatch is wrapped in a recover.
func (e *Engine) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while handling event",
				slog.String("connID", connID.String()), slog.Any("panic", r))
			e.emitError(connID, ErrCodeInternal, "internal error")
		}
	}()

	if !gjson.ValidBytes(msg) {
		e.emitError(connID, ErrCodeInvalidInput, "malformed message")
		return
	}
	event := gjson.GetBytes(msg, "event").String()
	handler, ok := e.handlers[event]
	if !ok {
		e.logger.Warn("Received unknown event",
			slog.String("event", event), slog.String("connID", connID.String()))
		return
	}
	metrics.EventsTotal.WithLabelValues(event).Inc()
	handler(ctx, connID, gjson.GetBytes(msg, "payload"))
}

// HandleDisconnect is the transport close callback. The participant record
// is retained in the registry so the client can reconnect and resume; only
// the live binding goes away.
func (e *Engine) HandleDisconnect(connID uuid.UUID, err error) {
	e.cancelTyping(connID)
	roomCode, ok := e.conns.Deregister(connID)
	if !ok {
		return
	}
	metrics.OpenConnections.Dec()
	e.presence.Recompute(roomCode)
	e.logger.Debug("Connection disconnected",
		slog.String("connID", connID.String()), slog.String("room", roomCode))
}

// --- intent handlers ---

func (e *Engine) handleCreate(ctx context.Context, connID uuid.UUID, _ gjson.Result) {
	identity, ok := e.conns.Identity(connID)
	if !ok {
		return
	}
	if prior := e.conns.RoomOf(connID); prior != "" {
		e.leaveRoom(ctx, connID, prior)
	}

	room, err := e.registry.CreateRoom(ctx, identity.ClientID, identity.DisplayName)
	if err != nil {
		e.emitRegistryError(connID, err)
		return
	}
	metrics.ActiveRooms.Inc()
	e.conns.BindRoom(connID, room.Code)

	e.emit(connID, EventSessionCreated, sessionPayload{Code: room.Code})
	e.emit(connID, EventContentSync, contentPayload{Content: ""})
	e.logger.Info("Room created",
		slog.String("code", room.Code), slog.String("clientID", identity.ClientID))
}

func (e *Engine) handleJoin(ctx context.Context, connID uuid.UUID, payload gjson.Result) {
	identity, ok := e.conns.Identity(connID)
	if !ok {
		return
	}

	code := session.CanonicalCode(payload.Get("code").String())
	if utf8.RuneCountInString(code) != e.codeLength {
		e.emitError(connID, ErrCodeInvalidCode,
			fmt.Sprintf("connection code must be exactly %d characters", e.codeLength))
		return
	}

	if prior := e.conns.RoomOf(connID); prior != "" && prior != code {
		e.leaveRoom(ctx, connID, prior)
	}

	lock := e.roomLock(code)
	lock.Lock()
	room, reactivated, err := e.registry.UpsertParticipant(ctx, code, identity.ClientID, identity.DisplayName)
	if err != nil {
		lock.Unlock()
		e.emitRegistryError(connID, err)
		return
	}
	if reactivated {
		// The retained room re-enters the active population.
		metrics.ActiveRooms.Inc()
	}
	e.conns.BindRoom(connID, code)
	e.emit(connID, EventSessionJoined, sessionPayload{Code: code})
	e.emit(connID, EventContentSync, contentPayload{Content: room.Content})
	lock.Unlock()

	// Membership is evaluated after a settle delay so this join's ack is
	// never outrun by the liveness computation.
	e.presence.Schedule(code, func() {
		e.evaluatePresence(code, connID)
	})
	e.logger.Info("Participant joined",
		slog.String("code", code), slog.String("clientID", identity.ClientID))
}

// evaluatePresence decides waiting vs live after a join settles. The upward
// crossing to two live connections notifies every member, not just the
// joiner; both UIs key off this event.
func (e *Engine) evaluatePresence(code string, joiner uuid.UUID) {
	live := e.presence.LiveSize(code)
	if live < 2 {
		if e.conns.RoomOf(joiner) == code {
			e.emit(joiner, EventSessionWaiting, nil)
		}
		return
	}

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()
	if e.presence.MarkLive(code) {
		e.broadcast(code, nil, EventRoomLive, roomLivePayload{LiveRoomSize: live})
		return
	}
	// Already live: only the late joiner needs the event.
	if e.conns.RoomOf(joiner) == code {
		e.emit(joiner, EventRoomLive, roomLivePayload{LiveRoomSize: live})
	}
}

func (e *Engine) handleContentUpdate(ctx context.Context, connID uuid.UUID, payload gjson.Result) {
	code := e.conns.RoomOf(connID)
	if code == "" {
		e.logger.Debug("Content update from unbound connection dropped",
			slog.String("connID", connID.String()))
		return
	}

	text := payload.Get("content")
	if text.Exists() && text.Type != gjson.String {
		e.emitError(connID, ErrCodeInvalidInput, "content must be a string")
		return
	}

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.registry.SetContent(ctx, code, text.String()); err != nil {
		e.emitRegistryError(connID, err)
		return
	}
	// No echo to the sender; everyone else gets the committed text.
	e.broadcast(code, &connID, EventContentSync, contentPayload{Content: text.String()})
}

func (e *Engine) handleTyping(_ context.Context, connID uuid.UUID, payload gjson.Result) {
	code := e.conns.RoomOf(connID)
	if code == "" {
		return
	}
	identity, ok := e.conns.Identity(connID)
	if !ok {
		return
	}
	flag := payload.Get("typing").Bool()

	lock := e.roomLock(code)
	lock.Lock()
	e.broadcast(code, &connID, EventTyping, typingPayload{
		ClientID:    identity.ClientID,
		DisplayName: identity.DisplayName,
		Typing:      flag,
	})
	lock.Unlock()

	if flag {
		e.scheduleTypingClear(connID, code, identity)
	} else {
		e.cancelTyping(connID)
	}
}

// scheduleTypingClear debounces the auto-clear: a fresher typing intent
// replaces the pending timer rather than stacking another one.
func (e *Engine) scheduleTypingClear(connID uuid.UUID, code string, identity Identity) {
	if e.typingClear <= 0 {
		return
	}
	e.typingMu.Lock()
	defer e.typingMu.Unlock()

	if t, ok := e.typingTimers[connID]; ok {
		t.Stop()
	}
	e.typingTimers[connID] = time.AfterFunc(e.typingClear, func() {
		e.typingMu.Lock()
		delete(e.typingTimers, connID)
		e.typingMu.Unlock()

		// The indicator only clears if the connection is still in the room.
		if e.conns.RoomOf(connID) != code {
			return
		}
		lock := e.roomLock(code)
		lock.Lock()
		defer lock.Unlock()
		e.broadcast(code, &connID, EventTyping, typingPayload{
			ClientID:    identity.ClientID,
			DisplayName: identity.DisplayName,
			Typing:      false,
		})
	})
}

func (e *Engine) cancelTyping(connID uuid.UUID) {
	e.typingMu.Lock()
	defer e.typingMu.Unlock()

	if t, ok := e.typingTimers[connID]; ok {
		t.Stop()
		delete(e.typingTimers, connID)
	}
}

func (e *Engine) handleRename(ctx context.Context, connID uuid.UUID, payload gjson.Result) {
	code := e.conns.RoomOf(connID)
	if code == "" {
		return
	}
	identity, ok := e.conns.Identity(connID)
	if !ok {
		return
	}

	raw := strings.TrimSpace(payload.Get("name").String())
	if raw == "" {
		e.emitError(connID, ErrCodeInvalidInput, "name cannot be empty")
		return
	}
	name := session.SanitizeName(raw, identity.DisplayName)

	lock := e.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	room, err := e.registry.RenameParticipant(ctx, code, identity.ClientID, name)
	if err != nil {
		e.emitRegistryError(connID, err)
		return
	}
	e.conns.SetDisplayName(connID, name)
	e.emit(connID, EventRenameAck, renameAckPayload{OK: true, Name: name})
	e.broadcast(code, nil, EventMembers, e.membersView(room))
}

func (e *Engine) handleLeave(ctx context.Context, connID uuid.UUID, _ gjson.Result) {
	code := e.conns.RoomOf(connID)
	if code == "" {
		return
	}
	e.leaveRoom(ctx, connID, code)
}

// leaveRoom is the permanent-leave path shared by the leave intent and the
// implicit leave on create/join of a different room.
func (e *Engine) leaveRoom(ctx context.Context, connID uuid.UUID, code string) {
	identity, ok := e.conns.Identity(connID)
	if !ok {
		return
	}
	e.cancelTyping(connID)

	lock := e.roomLock(code)
	lock.Lock()
	room, deleted, err := e.registry.RemoveParticipant(ctx, code, identity.ClientID)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, session.ErrSessionNotFound) {
			// The room is already gone; drop the stale binding.
			e.conns.UnbindRoom(connID)
			return
		}
		// Transient store failure: the participant is still in the room, so
		// the connection keeps its binding and stays in the fan-out set.
		e.emitRegistryError(connID, err)
		return
	}
	e.conns.UnbindRoom(connID)

	switch {
	case deleted:
		metrics.ActiveRooms.Dec()
	case room != nil && !room.Active:
		// Creator left after a guest had joined; room is retained but no
		// longer joinable until the creator returns.
		metrics.ActiveRooms.Dec()
		e.broadcast(code, nil, EventMembers, e.membersView(room))
	case room != nil:
		e.broadcast(code, nil, EventMembers, e.membersView(room))
	}
	lock.Unlock()

	if deleted {
		e.presence.Forget(code)
		e.dropRoomLock(code)
	} else {
		e.presence.Recompute(code)
	}
	e.logger.Info("Participant left",
		slog.String("code", code), slog.String("clientID", identity.ClientID),
		slog.Bool("roomDeleted", deleted))
}

// --- emission helpers ---

func (e *Engine) emit(connID uuid.UUID, event string, payload any) {
	t, ok := e.conns.Transport(connID)
	if !ok {
		return
	}
	t.Send(encode(event, payload))
}

// broadcast fans a message out to every connection bound to the room,
// excluding at most one. Callers hold the room lock, so per-room delivery
// order matches commit order.
func (e *Engine) broadcast(code string, exclude *uuid.UUID, event string, payload any) {
	targets := e.conns.RoomTransports(code, exclude)
	if len(targets) == 0 {
		return
	}
	msg := encode(event, payload)
	for _, t := range targets {
		t.Send(msg)
	}
	metrics.BroadcastFanout.Add(float64(len(targets)))
}

func (e *Engine) emitError(connID uuid.UUID, code, message string) {
	metrics.RelayErrorsTotal.WithLabelValues(code).Inc()
	e.emit(connID, EventError, errorPayload{Code: code, Message: message})
}

// emitRegistryError maps registry failures onto caller-local error events.
// Backend failures surface as a generic failure; the relay never crashes
// over them.
func (e *Engine) emitRegistryError(connID uuid.UUID, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrParticipantNotFound):
		e.emitError(connID, ErrCodeNotFound, "no active session for that code")
	case errors.Is(err, session.ErrContentTooLarge):
		e.emitError(connID, ErrCodeContentTooLarge, "content exceeds the 1 MiB cap")
	case errors.Is(err, session.ErrGenerationExhausted):
		e.emitError(connID, ErrCodeExhausted, "could not allocate a session code")
	case errors.Is(err, session.ErrBackendUnavailable):
		e.logger.Error("Session store unavailable", slog.Any("error", err))
		e.emitError(connID, ErrCodeInternal, "temporary failure, try again")
	default:
		e.logger.Error("Unexpected registry error", slog.Any("error", err))
		e.emitError(connID, ErrCodeInternal, "internal error")
	}
}

func (e *Engine) membersView(room *session.Room) membersPayload {
	view := membersPayload{
		Code:         room.Code,
		LiveRoomSize: e.conns.LiveSize(room.Code),
	}
	for _, p := range room.Participants {
		view.Participants = append(view.Participants, memberView{
			ClientID:    p.ClientID,
			DisplayName: p.DisplayName,
			Role:        string(p.Role),
			Connected:   e.conns.ClientLive(room.Code, p.ClientID),
		})
	}
	return view
}

// --- per-room locks ---

func (e *Engine) roomLock(code string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()

	lock, ok := e.roomLocks[code]
	if !ok {
		lock = &sync.Mutex{}
		e.roomLocks[code] = lock
	}
	return lock
}

func (e *Engine) dropRoomLock(code string) {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	delete(e.roomLocks, code)
}
