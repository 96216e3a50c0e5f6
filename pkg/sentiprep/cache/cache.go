// Package cache is the fingerprint-keyed result cache shared by detection,
// translation and dispatch. Each operation gets its own LRU namespace bounded
// by the configured capacity; an optional store.Backend adds a persistent
// read-through/write-through tier behind it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/cognicore/sentiprep/pkg/sentiprep/fingerprint"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
	"github.com/cognicore/sentiprep/pkg/sentiprep/telemetry"
)

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 1000

// Entry is a copy of a cached result; the cache never hands out its own.
type Entry struct {
	Fingerprint    fingerprint.Fingerprint
	Result         []byte
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Stats counts lookups for one namespace, plus hits recorded for results
// fanned out to duplicates.
type Stats struct {
	Hits      int64
	L2Hits    int64
	Misses    int64
	Evictions int64
}

// Options configures a Cache
type Options struct {
	Capacity int
	Backend  store.Backend
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

type entry struct {
	result   []byte
	created  time.Time
	accessed time.Time
}

type namespace struct {
	lru   *simplelru.LRU[fingerprint.Fingerprint, *entry]
	stats Stats
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	spaces   map[fingerprint.Op]*namespace
	capacity int
	backend  store.Backend
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// New creates a cache with one namespace per fingerprint.Op.
func New(opts Options) (*Cache, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{
		spaces:   make(map[fingerprint.Op]*namespace, len(fingerprint.Ops)),
		capacity: opts.Capacity,
		backend:  opts.Backend,
		logger:   opts.Logger.Named("cache"),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	for _, op := range fingerprint.Ops {
		if _, err := c.space(op); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// space returns the namespace for op, creating it on first use. Callers
// other than New must hold c.mu.
func (c *Cache) space(op fingerprint.Op) (*namespace, error) {
	if ns, ok := c.spaces[op]; ok {
		return ns, nil
	}
	ns := &namespace{}
	lru, err := simplelru.NewLRU[fingerprint.Fingerprint, *entry](c.capacity, func(fp fingerprint.Fingerprint, _ *entry) {
		ns.stats.Evictions++
		c.metrics.CacheEvict(string(op))
	})
	if err != nil {
		return nil, err
	}
	ns.lru = lru
	c.spaces[op] = ns
	return ns, nil
}

// Get returns a copy of the cached result for fp and refreshes its recency.
// On an in-process miss the backend, if any, is consulted and a hit there is
// promoted into the LRU. Backend errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, bool) {
	return c.lookup(ctx, fp, true)
}

// Peek is Get without touching the hit and miss counters. It serves the
// re-check a single-flight leader makes after its own counted lookup.
func (c *Cache) Peek(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, bool) {
	return c.lookup(ctx, fp, false)
}

// RecordHits counts n hits on op that were served without a lookup, such as
// duplicates of one fingerprint fanned out from a single result.
func (c *Cache) RecordHits(op fingerprint.Op, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	ns, err := c.space(op)
	if err == nil {
		ns.stats.Hits += int64(n)
	}
	c.mu.Unlock()
	if err == nil {
		c.metrics.AddCacheHits(string(op), n)
	}
}

func (c *Cache) lookup(ctx context.Context, fp fingerprint.Fingerprint, count bool) ([]byte, bool) {
	op := fp.Op()

	c.mu.Lock()
	ns, err := c.space(op)
	if err != nil {
		c.mu.Unlock()
		return nil, false
	}
	if e, ok := ns.lru.Get(fp); ok {
		e.accessed = c.now()
		if count {
			ns.stats.Hits++
		}
		out := append([]byte(nil), e.result...)
		c.mu.Unlock()
		if count {
			c.metrics.CacheHit(string(op))
		}
		return out, true
	}
	c.mu.Unlock()

	if c.backend != nil {
		pe, found, err := c.backend.Load(ctx, string(fp))
		if err != nil {
			c.logger.Warn("backend load failed",
				zap.String("fingerprint", fp.Short()),
				zap.Error(err))
		} else if found {
			now := c.now()
			created := pe.CreatedAt
			if created.IsZero() {
				created = now
			}
			c.mu.Lock()
			if _, ok := ns.lru.Peek(fp); !ok {
				ns.lru.Add(fp, &entry{result: pe.Value, created: created, accessed: now})
			}
			if count {
				ns.stats.Hits++
				ns.stats.L2Hits++
			}
			c.mu.Unlock()
			if count {
				c.metrics.CacheHit(string(op))
			}
			return append([]byte(nil), pe.Value...), true
		}
	}

	if !count {
		return nil, false
	}
	c.mu.Lock()
	ns.stats.Misses++
	c.mu.Unlock()
	c.metrics.CacheMiss(string(op))
	return nil, false
}

// Put stores result under fp, evicting the least recently used entry of the
// namespace when it is full, and writes through to the backend.
func (c *Cache) Put(ctx context.Context, fp fingerprint.Fingerprint, result []byte) {
	op := fp.Op()
	now := c.now()
	value := append([]byte(nil), result...)

	c.mu.Lock()
	ns, err := c.space(op)
	if err != nil {
		c.mu.Unlock()
		return
	}
	created := now
	if old, ok := ns.lru.Peek(fp); ok {
		created = old.created
	}
	ns.lru.Add(fp, &entry{result: value, created: created, accessed: now})
	c.mu.Unlock()

	if c.backend != nil {
		err := c.backend.Save(ctx, store.Entry{Key: string(fp), Op: string(op), Value: value, CreatedAt: created})
		if err != nil {
			c.logger.Warn("backend save failed",
				zap.String("fingerprint", fp.Short()),
				zap.Error(err))
		}
	}
}

// Invalidate removes fp from every tier.
func (c *Cache) Invalidate(ctx context.Context, fp fingerprint.Fingerprint) error {
	c.mu.Lock()
	if ns, ok := c.spaces[fp.Op()]; ok {
		ns.lru.Remove(fp)
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Delete(ctx, string(fp)); err != nil {
			return fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Purge drops every in-process entry of op. The backend is left untouched.
func (c *Cache) Purge(op fingerprint.Op) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.spaces[op]; ok {
		ns.lru.Purge()
	}
}

// Len returns the number of in-process entries for op.
func (c *Cache) Len(op fingerprint.Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.spaces[op]; ok {
		return ns.lru.Len()
	}
	return 0
}

// Keys returns the in-process keys of op from least to most recently used.
func (c *Cache) Keys(op fingerprint.Op) []fingerprint.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.spaces[op]; ok {
		return ns.lru.Keys()
	}
	return nil
}

// Entry returns a copy of the entry for fp without refreshing its recency.
func (c *Cache) Entry(fp fingerprint.Fingerprint) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.spaces[fp.Op()]
	if !ok {
		return Entry{}, false
	}
	e, ok := ns.lru.Peek(fp)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Fingerprint:    fp,
		Result:         append([]byte(nil), e.result...),
		CreatedAt:      e.created,
		LastAccessedAt: e.accessed,
	}, true
}

// Stats returns the lookup counters of op.
func (c *Cache) Stats(op fingerprint.Op) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.spaces[op]; ok {
		return ns.stats
	}
	return Stats{}
}

// Capacity is the per-namespace bound.
func (c *Cache) Capacity() int { return c.capacity }

// GetJSON decodes a cached JSON value into T. Undecodable entries are
// invalidated and reported as misses.
func GetJSON[T any](ctx context.Context, c *Cache, fp fingerprint.Fingerprint) (T, bool) {
	return decodeJSON[T](ctx, c, fp, true)
}

// PeekJSON is GetJSON without touching the counters.
func PeekJSON[T any](ctx context.Context, c *Cache, fp fingerprint.Fingerprint) (T, bool) {
	return decodeJSON[T](ctx, c, fp, false)
}

func decodeJSON[T any](ctx context.Context, c *Cache, fp fingerprint.Fingerprint, count bool) (T, bool) {
	var v T
	raw, ok := c.lookup(ctx, fp, count)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("dropping undecodable entry",
			zap.String("fingerprint", fp.Short()),
			zap.Error(err))
		_ = c.Invalidate(ctx, fp)
		var zero T
		return zero, false
	}
	return v, true
}

// PutJSON encodes v and stores it under fp.
func PutJSON[T any](ctx context.Context, c *Cache, fp fingerprint.Fingerprint, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Put(ctx, fp, raw)
	return nil
}
