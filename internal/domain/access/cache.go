package access

import (
	"strings"
	"sync"
	"time"

	"family-health-access/internal/domain/permissions"
)

// decisionCache guarda sets efectivos resueltos por (actor, owner, child)
// con TTL corto. Se invalida síncrono en cualquier write de settings/grants;
// aún bajo mucha lectura nunca se confía en una entrada vencida.
type decisionCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	ownerUserID string
	perms       []permissions.Permission
	expiresAt   time.Time
}

const (
	defaultCacheTTL     = 30 * time.Second
	defaultCacheEntries = 4096
)

func newDecisionCache(ttl time.Duration, maxEntries int) *decisionCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &decisionCache{
		entries:    map[string]cacheEntry{},
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func cacheKey(actorID, ownerUserID, childID string) string {
	return strings.Join([]string{actorID, ownerUserID, childID}, "|")
}

func (c *decisionCache) get(actorID, ownerUserID, childID string) ([]permissions.Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(actorID, ownerUserID, childID)]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		return nil, false
	}

	out := make([]permissions.Permission, len(e.perms))
	copy(out, e.perms)
	return out, true
}

func (c *decisionCache) set(actorID, ownerUserID, childID string, perms []permissions.Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Bound simple: al llenarse, se vacía entero. Las entradas se repueblan
	// solas y el TTL es corto; no amerita LRU acá.
	if len(c.entries) >= c.maxEntries {
		c.entries = map[string]cacheEntry{}
	}

	stored := make([]permissions.Permission, len(perms))
	copy(stored, perms)

	c.entries[cacheKey(actorID, ownerUserID, childID)] = cacheEntry{
		ownerUserID: ownerUserID,
		perms:       stored,
		expiresAt:   c.now().Add(c.ttl),
	}
}

// InvalidateOwner tira todas las entradas de una familia.
// Lo llaman privacy/grants en cada write, antes de responder.
func (c *decisionCache) InvalidateOwner(ownerUserID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if e.ownerUserID == ownerUserID {
			delete(c.entries, k)
		}
	}
}
