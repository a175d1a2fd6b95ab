package relay

import (
	"sync"
	"time"
)

// Presence derives room liveness from the connection manager and tracks the
// waiting->live transition per room, so the relay fires the pad-visible
// event exactly once per upward crossing.
//
// Post-join evaluations run after a settle delay, so the join ack never
// races the membership count; a fresher evaluation supersedes a pending one.
type Presence struct {
	conns  *ConnManager
	settle time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	live   map[string]bool // rooms currently at >=2 live connections
}

func NewPresence(conns *ConnManager, settle time.Duration) *Presence {
	return &Presence{
		conns:  conns,
		settle: settle,
		timers: make(map[string]*time.Timer),
		live:   make(map[string]bool),
	}
}

// LiveSize is the current count of live connections bound to the room.
func (p *Presence) LiveSize(code string) int { return p.conns.LiveSize(code) }

// Schedule runs fn after the settle delay, replacing any pending evaluation
// for the room. A non-positive delay runs fn synchronously.
func (p *Presence) Schedule(code string, fn func()) {
	if p.settle <= 0 {
		fn()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[code]; ok {
		t.Stop()
	}
	p.timers[code] = time.AfterFunc(p.settle, func() {
		p.mu.Lock()
		delete(p.timers, code)
		p.mu.Unlock()
		fn()
	})
}

// MarkLive records that the room is at >=2 live connections. Returns true
// only on the transition from below the threshold.
func (p *Presence) MarkLive(code string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live[code] {
		return false
	}
	p.live[code] = true
	return true
}

// Recompute re-derives liveness after a member drops. No event is mandated
// on the downward crossing; content persists.
func (p *Presence) Recompute(code string) {
	if code == "" {
		return
	}
	if p.conns.LiveSize(code) >= 2 {
		return
	}
	p.mu.Lock()
	delete(p.live, code)
	p.mu.Unlock()
}

// Forget drops all state for a destroyed room, cancelling any pending
// evaluation.
func (p *Presence) Forget(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[code]; ok {
		t.Stop()
		delete(p.timers, code)
	}
	delete(p.live, code)
}
