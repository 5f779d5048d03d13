package capability

import (
	"sync"
	"time"
)

// RateGate enforces per-capability, per-user call budgets over a fixed
// one-minute window. A capability's budget comes from its Config.RateLimit;
// zero means unlimited. The gate is shared by all dispatches of one engine
// instance and is safe for concurrent use.
type RateGate struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time // injectable clock for tests
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateGate creates an empty gate using the wall clock.
func NewRateGate() *RateGate {
	return &RateGate{windows: make(map[string]*rateWindow), now: time.Now}
}

// Allow records one call against the (userID, capability) budget and reports
// whether it fits within limit calls per minute. limit <= 0 always allows.
func (g *RateGate) Allow(userID, capability string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := userID + "\x00" + capability
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		g.windows[key] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}
