package cypher

import (
	"bytes"
	"container/list"
	"context"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// PlanCache caches translated Plans keyed by normalized query text plus
// parameters, so repeated execution of the same Cypher text (a prepared
// statement executed in a loop, a hot API endpoint) skips parsing and
// translation entirely. LRU eviction keeps the local tier bounded.
//
// A plan embeds the literal values bound from params at translation time
// (see varBinding.literalDoc, compileLiteral), so params are part of the
// cache key: two calls with the same text but different parameter values
// are different plans.
//
// An optional remote tier (AttachRemote) backs the local LRU with a Redis
// instance shared across process instances: a miss on the local tier
// consults Redis before falling through to parse+translate, and a local
// Put also writes through to Redis with a short TTL. Remote entries are
// never the source of an eviction decision — they just shorten cold starts
// on other instances. gob encodes the Plan for transport.
type PlanCache struct {
	cache   map[string]*list.Element
	lru     *list.List
	mu      sync.Mutex
	maxSize int
	hits    int64
	misses  int64

	remote    *redis.Client
	remoteTTL time.Duration
	logger    *slog.Logger
}

// init registers the concrete types that appear inside a Statement's Args
// ([]any) so gob can encode/decode them through the interface boundary when
// a plan is written to or read from the remote tier.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register("")
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte(nil))
}

type cachedPlan struct {
	key  string
	plan *Plan
}

// NewPlanCache builds a PlanCache holding up to maxSize entries. maxSize<=0
// falls back to a default of 500.
func NewPlanCache(maxSize int) *PlanCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &PlanCache{
		cache:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// AttachRemote wires a Redis second tier onto the cache: ttl<=0 falls back
// to 5 minutes. Passing a nil client detaches the remote tier.
func (c *PlanCache) AttachRemote(client *redis.Client, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = client
	c.remoteTTL = ttl
	c.logger = logger
}

// Get returns the cached plan for cypher/params, if present, checking the
// local LRU first and the remote tier (if attached) on a local miss.
func (c *PlanCache) Get(ctx context.Context, cypher string, params map[string]any) (*Plan, bool) {
	key := planCacheKey(cypher, params)

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		plan := elem.Value.(*cachedPlan).plan
		c.mu.Unlock()
		return plan, true
	}
	c.misses++
	remote := c.remote
	c.mu.Unlock()

	if remote == nil {
		return nil, false
	}
	plan, ok := c.getRemote(ctx, remote, key)
	if ok {
		c.storeLocal(key, plan)
	}
	return plan, ok
}

// Put stores plan under cypher/params locally, evicting the least recently
// used entry first if the cache is full, and writes through to the remote
// tier if one is attached.
func (c *PlanCache) Put(ctx context.Context, cypher string, params map[string]any, plan *Plan) {
	key := planCacheKey(cypher, params)
	c.storeLocal(key, plan)

	c.mu.Lock()
	remote, ttl := c.remote, c.remoteTTL
	c.mu.Unlock()
	if remote == nil {
		return
	}
	c.putRemote(ctx, remote, key, plan, ttl)
}

func (c *PlanCache) storeLocal(key string, plan *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value.(*cachedPlan).plan = plan
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		delete(c.cache, oldest.Value.(*cachedPlan).key)
		c.lru.Remove(oldest)
	}
	elem := c.lru.PushFront(&cachedPlan{key: key, plan: plan})
	c.cache[key] = elem
}

func (c *PlanCache) getRemote(ctx context.Context, client *redis.Client, key string) (*Plan, bool) {
	raw, err := client.Get(ctx, remoteCacheKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "plan cache remote get failed", "error", err)
		}
		return nil, false
	}
	var plan Plan
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&plan); err != nil {
		c.logger.WarnContext(ctx, "plan cache remote decode failed", "error", err)
		return nil, false
	}
	return &plan, true
}

func (c *PlanCache) putRemote(ctx context.Context, client *redis.Client, key string, plan *Plan, ttl time.Duration) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(plan); err != nil {
		c.logger.WarnContext(ctx, "plan cache remote encode failed", "error", err)
		return
	}
	if err := client.Set(ctx, remoteCacheKey(key), buf.Bytes(), ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "plan cache remote put failed", "error", err)
	}
}

func remoteCacheKey(key string) string {
	return "cyqlcore:plan:" + key
}

// Stats reports cache hit/miss counts and current size, for monitoring.
func (c *PlanCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.cache)
}

// Clear empties the cache.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*list.Element)
	c.lru.Init()
}

// planCacheKey normalizes whitespace in cypher (so reformatted but
// otherwise identical text shares a cache entry) and folds in params via
// an FNV-1a hash.
func planCacheKey(cypher string, params map[string]any) string {
	normalized := strings.Join(strings.Fields(cypher), " ")
	h := fnv.New64a()
	h.Write([]byte(normalized))
	if len(params) > 0 {
		fmt.Fprintf(h, "%v", params)
	}
	return normalized + "#" + strconv.FormatUint(h.Sum64(), 36)
}
