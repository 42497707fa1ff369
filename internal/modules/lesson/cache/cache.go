package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

// Entry is immutable once written; a refresh writes a new, later entry.
type Entry struct {
	Payload   []byte        `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	HitCount  int           `json:"hit_count"`
}

func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Store is the backing key-value store of one cache.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e Entry) error
	// Hit records a served read.
	Hit(ctx context.Context, key string) error
}

type Clock func() time.Time

// Cache is a read-through TTL cache. Expiry is checked on every read.
type Cache struct {
	name    string
	store   Store
	ttl     time.Duration
	now     Clock
	loadTTL time.Duration
	group   singleflight.Group
	log     *logger.Logger
	metrics *observability.Metrics
}

type Option func(*Cache)

func WithClock(c Clock) Option { return func(x *Cache) { x.now = c } }

func WithMetrics(m *observability.Metrics) Option { return func(x *Cache) { x.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(x *Cache) { x.log = l } }

// WithLoadTimeout bounds a shared GetOrLoad load, which no single caller can cancel.
func WithLoadTimeout(d time.Duration) Option { return func(x *Cache) { x.loadTTL = d } }

const defaultLoadTimeout = 2 * time.Minute

func New(name string, store Store, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{name: name, store: store, ttl: ttl, now: time.Now, loadTTL: defaultLoadTimeout, log: logger.Nop()}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("service", "Cache", "cache", name)
	return c
}

func (c *Cache) Name() string { return c.name }

// Get returns the live entry for key. Expired and missing entries are misses.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	e, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache %s: get: %w", c.name, err)
	}
	if e == nil || e.Expired(c.now()) {
		c.metrics.ObserveCache(c.name, false)
		return nil, false, nil
	}
	if err := c.store.Hit(ctx, key); err != nil {
		c.log.Warn("cache hit bookkeeping failed", "error", err)
	} else {
		e.HitCount++
	}
	c.metrics.ObserveCache(c.name, true)
	return e, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, payload []byte) error {
	if err := c.store.Put(ctx, key, Entry{Payload: payload, CreatedAt: c.now().UTC(), TTL: c.ttl}); err != nil {
		return fmt.Errorf("cache %s: put: %w", c.name, err)
	}
	return nil
}

// GetOrLoad serves key from the cache or runs load once per key across concurrent callers.
// The shared load is detached from any one caller's cancellation and bounded by the load
// timeout; a canceled caller stops waiting without failing the others. The bool reports a
// cache hit.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if e, ok, err := c.Get(ctx, key); err != nil {
		c.log.Warn("cache read failed; loading", "error", err)
	} else if ok {
		return e.Payload, true, nil
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTTL)
		defer cancel()
		payload, err := load(lctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(lctx, key, payload); err != nil {
			c.log.Warn("cache write failed", "error", err)
		}
		return payload, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// GetJSON decodes a live entry into out.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	e, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return false, fmt.Errorf("cache %s: decode: %w", c.name, err)
	}
	return true, nil
}

func (c *Cache) PutJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache %s: encode: %w", c.name, err)
	}
	return c.Put(ctx, key, raw)
}

// Key hashes its parts into a composite key. Parts are length-prefixed so ("ab","c") != ("a","bc").
func Key(parts ...string) string {
	h, _ := blake2b.New256(nil)
	var lenBuf [8]byte
	for _, p := range parts {
		n := len(p)
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashJSON hashes the canonical JSON encoding of v (map keys sorted).
func HashJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if string(raw) == "null" || string(raw) == "{}" {
		raw = nil
	}
	return Key(string(raw))
}

// Layer bundles the three independent caches the pipeline uses.
type Layer struct {
	Plan     *Cache
	Section  *Cache
	Document *Cache
}
