package reconcile

import (
	"sync"
	"time"

	syncv1 "duo/shared/contracts/sync/v1"
)

const (
	DefaultResultTTL = 10 * time.Minute
	pruneEvery       = time.Minute
)

type resultKey struct {
	userID   string
	actionID string
}

type cachedResult struct {
	res     syncv1.ActionResult
	expires time.Time
}

// resultCache remembers the outcome of each (user, client_action_id) for ttl, so a retried batch
// replays results instead of applying actions again.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[resultKey]cachedResult
	pruned  time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl, entries: make(map[resultKey]cachedResult)}
}

func (c *resultCache) get(userID, actionID string, now time.Time) (syncv1.ActionResult, bool) {
	if actionID == "" {
		return syncv1.ActionResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[resultKey{userID, actionID}]
	if !ok || !now.Before(e.expires) {
		return syncv1.ActionResult{}, false
	}
	return e.res, true
}

func (c *resultCache) put(userID, actionID string, res syncv1.ActionResult, now time.Time) {
	if actionID == "" || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.pruned) >= pruneEvery {
		for k, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
		c.pruned = now
	}
	c.entries[resultKey{userID, actionID}] = cachedResult{res: res, expires: now.Add(c.ttl)}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
