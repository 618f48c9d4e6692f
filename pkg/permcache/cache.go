// Package permcache implements the hierarchical permission cache: it wraps
// an upstream identity-service checker with a path-tree-inheriting,
// two-phase-TTL cache, grounded on
// original_source/platform_storage_api/cache.py's PermissionsCache and
// original_source/platform_storage_api/security.py's PermissionChecker (the
// upstream checker it wraps).
package permcache

import (
	"container/list"
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
)

// UpstreamChecker is the external identity service this cache fronts. A
// "deny" answer at the root of a requested sub-tree MUST be surfaced as a
// gatewayerr.NotFound error (never Forbidden) to prevent sub-tree
// enumeration; implementations (see ./authclient) are expected to translate
// it that way before returning.
type UpstreamChecker interface {
	GetTree(ctx context.Context, authHeader, absPath string) (AccessSubTree, error)
	Check(ctx context.Context, authHeader, absPath string, action Action) error
}

// cacheKey is (authorization-header-value, absolute-path-string). The raw
// header is used so different tokens never share entries.
type cacheKey struct {
	authHeader string
	path       string
}

type cacheValue struct {
	tree      AccessSubTree
	expiredAt time.Time
	dropAt    time.Time
}

type entry struct {
	key   cacheKey
	value cacheValue
}

// Cache is a process-wide, mutex-guarded permission cache. All operations
// are O(ancestors-walked) and hold the lock only for in-memory bookkeeping —
// calls out to UpstreamChecker happen with the lock released.
type Cache struct {
	upstream            UpstreamChecker
	clock               func() time.Time
	expirationInterval   time.Duration
	forgettingInterval   time.Duration

	mu       sync.Mutex
	elements map[cacheKey]*list.Element
	order    *list.List // front = oldest refreshed, back = most recently touched
}

// New builds a Cache. expirationInterval governs how long a cached tree is
// trusted before a refresh is attempted; forgettingInterval (which must be
// >= expirationInterval) governs how long an entry survives with no hits at
// all before it is evicted outright.
func New(upstream UpstreamChecker, expirationInterval, forgettingInterval time.Duration) *Cache {
	return &Cache{
		upstream:           upstream,
		clock:              time.Now,
		expirationInterval: expirationInterval,
		forgettingInterval: forgettingInterval,
		elements:           make(map[cacheKey]*list.Element),
		order:              list.New(),
	}
}

// WithClock overrides the cache's time source; intended for tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// GetTree returns the AccessSubTree for authHeader rooted at absPath,
// serving from cache when possible and falling back to the upstream checker
// on a full miss.
func (c *Cache) GetTree(ctx context.Context, authHeader, absPath string) (AccessSubTree, error) {
	c.evictExpired()

	if tree, ok := c.lookupCached(ctx, authHeader, absPath); ok {
		return tree, nil
	}

	now := c.clock()
	tree, err := c.upstream.GetTree(ctx, authHeader, absPath)
	if err != nil {
		return AccessSubTree{}, err
	}
	c.insert(cacheKey{authHeader, absPath}, tree, now)
	return tree, nil
}

// Check reports whether authHeader has at least `action` on absPath,
// consulting the cache first and the upstream checker only when the cache
// cannot affirmatively answer. Negative results are never cached.
func (c *Cache) Check(ctx context.Context, authHeader, absPath string, action Action) error {
	c.evictExpired()

	if tree, ok := c.lookupCached(ctx, authHeader, absPath); ok && tree.Action.Dominates(action) {
		return nil
	}

	return c.upstream.Check(ctx, authHeader, absPath, action)
}

// lookupCached implements the shared hit-path walk used by both GetTree and
// Check: walk upward from absPath popping trailing segments until a cache
// entry is found (or the root is passed, a full miss). On a stale hit with
// remaining segments to descend, refresh the ancestor entry from upstream;
// on a stale hit with no segments left (the requested path's own entry is
// stale), report a miss so the caller re-fetches at the exact path.
func (c *Cache) lookupCached(ctx context.Context, authHeader, absPath string) (AccessSubTree, bool) {
	segments, ancestor, cached, found := c.findAncestor(authHeader, absPath)
	if !found {
		return AccessSubTree{}, false
	}

	now := c.clock()
	tree := cached.tree
	if cached.expiredAt.Before(now) {
		if len(segments) == 0 {
			return AccessSubTree{}, false
		}
		refreshed, err := c.upstream.GetTree(ctx, authHeader, ancestor)
		if err != nil {
			if gwErr, ok := gatewayerr.As(err); ok && gwErr.Kind == gatewayerr.NotFound {
				c.remove(cacheKey{authHeader, ancestor})
			}
			return AccessSubTree{}, false
		}
		tree = refreshed
		c.insert(cacheKey{authHeader, ancestor}, tree, c.clock())
	} else {
		c.touch(cacheKey{authHeader, ancestor}, now)
	}

	return tree.descend(reversed(segments)), true
}

// findAncestor walks from absPath toward root collecting the segments
// popped along the way, stopping at the first cached ancestor. segments is
// ordered deepest-first (absPath's own leaf name first), matching the order
// they were popped during the walk.
func (c *Cache) findAncestor(authHeader, absPath string) (segments []string, ancestor string, value cacheValue, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := absPath
	for {
		key := cacheKey{authHeader, target}
		if elem, ok := c.elements[key]; ok {
			return segments, target, elem.Value.(*entry).value, true
		}
		parent := path.Dir(target)
		if parent == target {
			return nil, "", cacheValue{}, false
		}
		segments = append(segments, path.Base(target))
		target = parent
	}
}

func reversed(segments []string) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[len(segments)-1-i] = s
	}
	return out
}

func (c *Cache) insert(key cacheKey, tree AccessSubTree, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := cacheValue{
		tree:      tree,
		expiredAt: now.Add(c.expirationInterval),
		dropAt:    now.Add(c.forgettingInterval),
	}
	if elem, ok := c.elements[key]; ok {
		elem.Value.(*entry).value = value
		c.order.MoveToBack(elem)
		return
	}
	elem := c.order.PushBack(&entry{key: key, value: value})
	c.elements[key] = elem
}

// touch refreshes drop_at on a hit without refreshing expired_at, per
// spec.md §4.B.
func (c *Cache) touch(key cacheKey, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elements[key]
	if !ok {
		return
	}
	e := elem.Value.(*entry)
	e.value.dropAt = now.Add(c.forgettingInterval)
	c.order.MoveToBack(elem)
}

func (c *Cache) remove(key cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elements[key]
	if !ok {
		return
	}
	c.order.Remove(elem)
	delete(c.elements, key)
}

// evictExpired pops entries from the head of the insertion/refresh-ordered
// list whose drop_at has elapsed, giving O(1) amortized LRU-style eviction.
func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		if e.value.dropAt.After(now) {
			return
		}
		c.order.Remove(front)
		delete(c.elements, e.key)
	}
}

// Clear empties the cache. Intended for tests and graceful shutdown.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elements = make(map[cacheKey]*list.Element)
	c.order = list.New()
}

// PathToURI renders an absolute storage path as the storage:// URI the
// upstream identity service expects, cluster-qualified when clusterName is
// non-empty (spec.md §9's Open Question on URI spelling: the cluster-
// qualified form is emitted whenever a cluster name is configured).
func PathToURI(clusterName, absPath string) string {
	if !strings.HasPrefix(absPath, "/") {
		absPath = "/" + absPath
	}
	if clusterName != "" {
		return "storage://" + clusterName + absPath
	}
	return "storage:" + absPath
}
