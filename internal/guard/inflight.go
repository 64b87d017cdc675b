package guard

import (
	"fmt"
	"sync"

	"github.com/pixelponies/pvp/internal/domain"
)

// Inflight enforces the one-outstanding-per-kind rule: at most one
// tracked transaction of a given kind per match per local participant.
// Acquired before submission, released once the transaction settles,
// hard-fails, or is force-reset.
type Inflight struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewInflight creates an in-memory inflight guard.
func NewInflight() *Inflight {
	return &Inflight{held: make(map[string]bool)}
}

func key(id domain.MatchID, kind domain.TxKind) string {
	return fmt.Sprintf("%s:%s", id, kind)
}

// Acquire reserves the (match, kind) slot.
func (g *Inflight) Acquire(id domain.MatchID, kind domain.TxKind) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(id, kind)
	if g.held[k] {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("a %s transaction is already outstanding", kind),
			Guard:   "inflight",
		}
	}
	g.held[k] = true
	return Result{Allowed: true}
}

// Release frees the slot so the next action of this kind may start.
func (g *Inflight) Release(id domain.MatchID, kind domain.TxKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key(id, kind))
}

// Held reports whether a slot is currently reserved.
func (g *Inflight) Held(id domain.MatchID, kind domain.TxKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[key(id, kind)]
}
