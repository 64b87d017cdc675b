package projection

import (
	"sync"

	"github.com/pixelponies/pvp/internal/domain"
)

// ViewCache holds the latest projected view per match. Writers replace
// whole views atomically; readers always get a complete snapshot, never
// a half-updated one.
type ViewCache struct {
	mu    sync.RWMutex
	views map[domain.MatchID]domain.MatchView
}

// NewViewCache creates an empty cache.
func NewViewCache() *ViewCache {
	return &ViewCache{views: make(map[domain.MatchID]domain.MatchView)}
}

// Put replaces the view for a match.
func (c *ViewCache) Put(v domain.MatchView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[v.MatchID] = v
}

// Get returns the latest view, if one has been projected.
func (c *ViewCache) Get(id domain.MatchID) (domain.MatchView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[id]
	return v, ok
}

// List returns all cached views in unspecified order.
func (c *ViewCache) List() []domain.MatchView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.MatchView, 0, len(c.views))
	for _, v := range c.views {
		out = append(out, v)
	}
	return out
}

// Delete drops a match from the cache.
func (c *ViewCache) Delete(id domain.MatchID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
}
