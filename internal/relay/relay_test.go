package relay_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tidwall/gjson"

	"github.com/a-essam23/pairpad/internal/relay"
	"github.com/a-essam23/pairpad/pkg/metrics"
	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/session/codegen"
	"github.com/a-essam23/pairpad/pkg/session/sessionstore"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeTransport records everything the relay sends on one connection.
type fakeTransport struct {
	id uuid.UUID

	mu     sync.Mutex
	msgs   []string
	closed bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{id: uuid.New()} }

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, string(msg))
}

func (f *fakeTransport) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// events returns the ordered list of event names received.
func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, gjson.Get(m, "event").String())
	}
	return out
}

// payloads returns the payloads of every message with the given event name,
// in delivery order.
func (f *fakeTransport) payloads(event string) []gjson.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gjson.Result
	for _, m := range f.msgs {
		if gjson.Get(m, "event").String() == event {
			out = append(out, gjson.Get(m, "payload"))
		}
	}
	return out
}

// last returns the payload of the most recent message with the event name.
func (f *fakeTransport) last(t *testing.T, event string) gjson.Result {
	t.Helper()
	ps := f.payloads(event)
	if len(ps) == 0 {
		t.Fatalf("No %q event received; got %v", event, f.events())
	}
	return ps[len(ps)-1]
}

func (f *fakeTransport) count(event string) int { return len(f.payloads(event)) }

type testRig struct {
	engine   *relay.Engine
	registry *sessionstore.Memory
	conns    *relay.ConnManager
}

func newRig(t *testing.T, opts relay.Options) *testRig {
	t.Helper()
	gen, err := codegen.New(codegen.DefaultLength, codegen.DefaultAlphabet)
	if err != nil {
		t.Fatalf("codegen.New failed: %v", err)
	}
	if opts.CodeLength == 0 {
		opts.CodeLength = codegen.DefaultLength
	}
	logger := newTestLogger()
	registry := sessionstore.NewMemory(logger, gen, 0)
	conns := relay.NewConnManager(logger)
	return &testRig{
		engine:   relay.NewEngine(logger, registry, conns, opts),
		registry: registry,
		conns:    conns,
	}
}

func (r *testRig) connect(supplied, name string) *fakeTransport {
	ft := newFakeTransport()
	r.engine.OnConnect(ft, supplied, name)
	return ft
}

func (r *testRig) send(ft *fakeTransport, event, payload string) {
	msg := fmt.Sprintf(`{"event":%q,"payload":%s}`, event, payload)
	r.engine.HandleMessage(context.Background(), ft.ID(), []byte(msg))
}

// createRoom drives a create intent and returns the allocated code.
func (r *testRig) createRoom(t *testing.T, ft *fakeTransport) string {
	t.Helper()
	r.send(ft, relay.EventSessionCreate, `{}`)
	return ft.last(t, relay.EventSessionCreated).Get("code").String()
}

// --- Identity ---

func TestIdentityAnnouncedOnConnect(t *testing.T) {
	rig := newRig(t, relay.Options{})

	ft := rig.connect("short", "")
	id := ft.last(t, relay.EventIdentity)
	if got := id.Get("clientId").String(); got == "short" || got == "" {
		t.Errorf("Weak supplied client id should be replaced, got %q", got)
	}
	if !strings.HasPrefix(id.Get("displayName").String(), "User ") {
		t.Errorf("Expected defaulted display name, got %q", id.Get("displayName").String())
	}

	cfg := ft.last(t, relay.EventCodeConfig)
	if cfg.Get("codeLength").Int() != codegen.DefaultLength {
		t.Errorf("Expected codeLength %d, got %d", codegen.DefaultLength, cfg.Get("codeLength").Int())
	}
}

func TestSuppliedIdentityKept(t *testing.T) {
	rig := newRig(t, relay.Options{})

	ft := rig.connect("a-durable-client-identifier", "  Ana  ")
	id := ft.last(t, relay.EventIdentity)
	if id.Get("clientId").String() != "a-durable-client-identifier" {
		t.Errorf("Strong client id should be kept, got %q", id.Get("clientId").String())
	}
	if id.Get("displayName").String() != "Ana" {
		t.Errorf("Display name should be trimmed, got %q", id.Get("displayName").String())
	}
}

// --- Create / Join ---

func TestCreateRoom(t *testing.T) {
	rig := newRig(t, relay.Options{})
	ft := rig.connect("creator-client-0001", "Ana")

	code := rig.createRoom(t, ft)
	if len(code) != codegen.DefaultLength {
		t.Fatalf("Expected %d-char code, got %q", codegen.DefaultLength, code)
	}
	if got := ft.last(t, relay.EventContentSync).Get("content").String(); got != "" {
		t.Errorf("Fresh room should sync empty content, got %q", got)
	}
}

func TestJoinCaseInsensitive(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)

	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, strings.ToLower(code)))

	if got := b.last(t, relay.EventSessionJoined).Get("code").String(); got != code {
		t.Fatalf("Lowercase join should resolve to %q, got %q", code, got)
	}
}

func TestJoinRejectsWrongLength(t *testing.T) {
	rig := newRig(t, relay.Options{})
	ft := rig.connect("guest-client-000001", "Ben")

	rig.send(ft, relay.EventSessionJoin, `{"code":"ABCDE"}`)
	if got := ft.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeInvalidCode {
		t.Fatalf("Expected %q, got %q", relay.ErrCodeInvalidCode, got)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	rig := newRig(t, relay.Options{})
	ft := rig.connect("guest-client-000001", "Ben")

	rig.send(ft, relay.EventSessionJoin, `{"code":"ZZZZZZ"}`)
	if got := ft.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeNotFound {
		t.Fatalf("Expected %q, got %q", relay.ErrCodeNotFound, got)
	}
}

// --- Membership transitions ---

func TestRoomLiveReachesEveryMember(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)

	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	// Both the host and the joiner key their UI off this event, so both
	// must receive it independently.
	for _, ft := range []*fakeTransport{a, b} {
		live := ft.last(t, relay.EventRoomLive)
		if live.Get("liveRoomSize").Int() != 2 {
			t.Fatalf("Expected liveRoomSize 2, got %d", live.Get("liveRoomSize").Int())
		}
	}
}

func TestJoinerAloneGetsWaiting(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)

	// Creator drops the transport; the participant record survives but the
	// room has one live connection fewer.
	rig.engine.HandleDisconnect(a.ID(), nil)

	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	if b.count(relay.EventSessionWaiting) != 1 {
		t.Fatalf("Sole live member should be told to wait; events: %v", b.events())
	}
	if b.count(relay.EventRoomLive) != 0 {
		t.Fatal("room:live must not fire below two live connections")
	}
}

func TestSettleDelayDefersEvaluation(t *testing.T) {
	rig := newRig(t, relay.Options{SettleDelay: 30 * time.Millisecond})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)

	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	if b.count(relay.EventRoomLive) != 0 {
		t.Fatal("Membership must not be evaluated before the settle delay")
	}
	time.Sleep(150 * time.Millisecond)
	if a.count(relay.EventRoomLive) != 1 || b.count(relay.EventRoomLive) != 1 {
		t.Fatalf("Expected one room:live each after settling; a=%v b=%v", a.events(), b.events())
	}
}

// --- Content relay ---

func TestContentFanoutOrdering(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	rig.send(a, relay.EventContentUpdate, `{"content":"A"}`)
	rig.send(a, relay.EventContentUpdate, `{"content":"B"}`)

	syncs := b.payloads(relay.EventContentSync)
	// First sync is the join snapshot; the two updates must arrive in
	// commit order afterwards.
	if len(syncs) != 3 {
		t.Fatalf("Expected 3 content syncs, got %d (%v)", len(syncs), b.events())
	}
	if syncs[1].Get("content").String() != "A" || syncs[2].Get("content").String() != "B" {
		t.Fatalf("Out-of-order delivery: %q then %q",
			syncs[1].Get("content").String(), syncs[2].Get("content").String())
	}

	// No echo to the sender.
	if a.count(relay.EventContentSync) != 1 { // just the create-time sync
		t.Errorf("Sender must not receive its own update; a=%v", a.events())
	}
}

func TestContentUpdateNonString(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	rig.createRoom(t, a)

	rig.send(a, relay.EventContentUpdate, `{"content":42}`)
	if got := a.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeInvalidInput {
		t.Fatalf("Expected %q, got %q", relay.ErrCodeInvalidInput, got)
	}
}

func TestOversizeContentIsCallerLocal(t *testing.T) {
	gen, _ := codegen.New(codegen.DefaultLength, codegen.DefaultAlphabet)
	logger := newTestLogger()
	registry := sessionstore.NewMemory(logger, gen, 64) // tiny cap for the test
	conns := relay.NewConnManager(logger)
	engine := relay.NewEngine(logger, registry, conns, relay.Options{CodeLength: codegen.DefaultLength})
	rig := &testRig{engine: engine, registry: registry, conns: conns}

	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	before := b.count(relay.EventContentSync)
	rig.send(a, relay.EventContentUpdate, fmt.Sprintf(`{"content":%q}`, strings.Repeat("x", 65)))

	if got := a.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeContentTooLarge {
		t.Fatalf("Expected %q, got %q", relay.ErrCodeContentTooLarge, got)
	}
	if b.count(relay.EventContentSync) != before {
		t.Error("Oversize update must not reach other members")
	}
	if b.count(relay.EventError) != 0 {
		t.Error("Errors must never be broadcast to other members")
	}
}

// --- Typing ---

func TestTypingPassthrough(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	rig.send(a, relay.EventTyping, `{"typing":true}`)
	got := b.last(t, relay.EventTyping)
	if !got.Get("typing").Bool() || got.Get("displayName").String() != "Ana" {
		t.Fatalf("Typing passthrough broken: %s", got.Raw)
	}
	if a.count(relay.EventTyping) != 0 {
		t.Error("Typing must not echo to the sender")
	}
}

func TestTypingAutoClear(t *testing.T) {
	rig := newRig(t, relay.Options{TypingClear: 100 * time.Millisecond})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	// Two rapid typing intents must debounce into a single auto-clear.
	rig.send(a, relay.EventTyping, `{"typing":true}`)
	rig.send(a, relay.EventTyping, `{"typing":true}`)
	time.Sleep(400 * time.Millisecond)

	var clears int
	for _, p := range b.payloads(relay.EventTyping) {
		if !p.Get("typing").Bool() {
			clears++
		}
	}
	if clears != 1 {
		t.Fatalf("Expected exactly one auto-clear, got %d (%v)", clears, b.events())
	}
}

// --- Rename ---

func TestRenameAckAndSnapshot(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	rig.send(b, relay.EventUserRename, `{"name":"Benjamin"}`)

	ack := b.last(t, relay.EventRenameAck)
	if !ack.Get("ok").Bool() || ack.Get("name").String() != "Benjamin" {
		t.Fatalf("Bad rename ack: %s", ack.Raw)
	}
	// Snapshot goes to every live connection, the renamer included.
	for _, ft := range []*fakeTransport{a, b} {
		snap := ft.last(t, relay.EventMembers)
		if !strings.Contains(snap.Raw, "Benjamin") {
			t.Fatalf("Members snapshot missing new name: %s", snap.Raw)
		}
	}
}

func TestRenameEmptyRejected(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	rig.createRoom(t, a)

	rig.send(a, relay.EventUserRename, `{"name":"   "}`)
	if got := a.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeInvalidInput {
		t.Fatalf("Expected %q, got %q", relay.ErrCodeInvalidInput, got)
	}
}

// --- Leave / disconnect lifecycle ---

func TestCreatorLeaveDestroysUnvisitedRoom(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)

	rig.send(a, relay.EventSessionLeave, `{}`)

	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))
	if got := b.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeNotFound {
		t.Fatalf("Destroyed room should not be joinable, got %q", got)
	}
}

func TestDisconnectKeepsParticipantForResume(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	rig.engine.HandleDisconnect(b.ID(), nil)

	// Same durable identity on a fresh transport resumes, not duplicates.
	b2 := rig.connect("guest-client-000001", "Ben")
	rig.send(b2, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))
	if b2.count(relay.EventSessionJoined) != 1 {
		t.Fatalf("Resume join failed; events: %v", b2.events())
	}

	room, err := rig.registry.FindActiveRoom(context.Background(), code)
	if err != nil {
		t.Fatalf("FindActiveRoom failed: %v", err)
	}
	if len(room.Participants) != 2 {
		t.Fatalf("Reconnect duplicated the participant: %d members", len(room.Participants))
	}
}

func TestGuestLeaveSendsSnapshotToRemaining(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	rig.send(b, relay.EventSessionLeave, `{}`)

	snap := a.last(t, relay.EventMembers)
	if int(snap.Get("participants.#").Int()) != 1 {
		t.Fatalf("Expected 1 remaining participant in snapshot: %s", snap.Raw)
	}
}

func TestCreatorRejoinRestoresActiveRoomsGauge(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	base := testutil.ToFloat64(metrics.ActiveRooms)
	rig.send(a, relay.EventSessionLeave, `{}`)
	if got := testutil.ToFloat64(metrics.ActiveRooms); got != base-1 {
		t.Fatalf("Deactivation should drop the gauge by one: %v -> %v", base, got)
	}

	// The creator returning on a fresh transport reactivates the room, which
	// must bring the gauge back in line with the store's active population.
	a2 := rig.connect("creator-client-0001", "Ana")
	rig.send(a2, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))
	if a2.count(relay.EventSessionJoined) != 1 {
		t.Fatalf("Creator re-join failed; events: %v", a2.events())
	}
	if got := testutil.ToFloat64(metrics.ActiveRooms); got != base {
		t.Fatalf("Reactivation should restore the gauge: %v -> %v", base, got)
	}
}

// flakyRegistry fails removals on demand to exercise store-failure paths.
type flakyRegistry struct {
	*sessionstore.Memory
	failRemovals bool
}

func (f *flakyRegistry) RemoveParticipant(ctx context.Context, code, clientID string) (*session.Room, bool, error) {
	if f.failRemovals {
		return nil, false, session.ErrBackendUnavailable
	}
	return f.Memory.RemoveParticipant(ctx, code, clientID)
}

func TestLeaveKeepsBindingOnStoreFailure(t *testing.T) {
	gen, err := codegen.New(codegen.DefaultLength, codegen.DefaultAlphabet)
	if err != nil {
		t.Fatalf("codegen.New failed: %v", err)
	}
	logger := newTestLogger()
	mem := sessionstore.NewMemory(logger, gen, 0)
	registry := &flakyRegistry{Memory: mem}
	conns := relay.NewConnManager(logger)
	engine := relay.NewEngine(logger, registry, conns, relay.Options{CodeLength: codegen.DefaultLength})
	rig := &testRig{engine: engine, registry: mem, conns: conns}

	a := rig.connect("creator-client-0001", "Ana")
	code := rig.createRoom(t, a)
	b := rig.connect("guest-client-000001", "Ben")
	rig.send(b, relay.EventSessionJoin, fmt.Sprintf(`{"code":%q}`, code))

	registry.failRemovals = true
	rig.send(b, relay.EventSessionLeave, `{}`)

	if got := b.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeInternal {
		t.Fatalf("Expected %q on store failure, got %q", relay.ErrCodeInternal, got)
	}
	// The participant is still in the room, so the connection must stay in
	// the fan-out set rather than being half-removed.
	before := b.count(relay.EventContentSync)
	rig.send(a, relay.EventContentUpdate, `{"content":"still here"}`)
	if b.count(relay.EventContentSync) != before+1 {
		t.Fatalf("Failed leave dropped the connection from fan-out; events: %v", b.events())
	}
}

func TestMalformedMessageIsNonFatal(t *testing.T) {
	rig := newRig(t, relay.Options{})
	a := rig.connect("creator-client-0001", "Ana")

	rig.engine.HandleMessage(context.Background(), a.ID(), []byte("{not json"))
	if got := a.last(t, relay.EventError).Get("code").String(); got != relay.ErrCodeInvalidInput {
		t.Fatalf("Expected %q, got %q", relay.ErrCodeInvalidInput, got)
	}

	// The connection is still usable afterwards.
	rig.createRoom(t, a)
}
