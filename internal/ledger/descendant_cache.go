package ledger

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// descendantQueryTimeout bounds a single listDescendantsOS call so a
// hung subprocess (powershell, pgrep) can't block the caller's pipe
// connection indefinitely. Applies uniformly to all three platform
// backends, since they share this one call site.
const descendantQueryTimeout = 10 * time.Second

// descendantCache memoizes listDescendantsOS results for 5 seconds,
// keyed by the set of tracked PIDs queried — mirrors the TTL-wrapper
// shape of internal/childruntime's CachedRuntime, generalized from a
// container-status cache to a process-descendant cache.
type descendantCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]descendantCacheEntry
}

type descendantCacheEntry struct {
	children  []ChildInfo
	expiresAt time.Time
}

func newDescendantCache(ttl time.Duration) *descendantCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &descendantCache{ttl: ttl, entries: make(map[string]descendantCacheEntry)}
}

// listDescendants returns descendants of pids, querying the OS-specific
// backend on a cache miss. The cache key is the sorted set of pids, so
// two calls probing the same tracked-PID set within the TTL window share
// one expensive OS query.
func (c *descendantCache) listDescendants(ctx context.Context, pids []int) ([]ChildInfo, error) {
	key := cacheKey(pids)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		children := entry.children
		c.mu.Unlock()
		return children, nil
	}
	c.mu.Unlock()

	queryCtx, cancel := context.WithTimeout(ctx, descendantQueryTimeout)
	defer cancel()
	children, err := listDescendantsOS(queryCtx, pids)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = descendantCacheEntry{children: children, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return children, nil
}

// invalidate clears every cached entry; called whenever the tracked-PID
// set changes (spawn, kill, reconciliation).
func (c *descendantCache) invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]descendantCacheEntry)
	c.mu.Unlock()
}

func cacheKey(pids []int) string {
	sorted := append([]int(nil), pids...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
