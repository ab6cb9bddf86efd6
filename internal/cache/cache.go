// Package cache memoizes read results by query signature.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Signature identifies a cached read: the literal query text plus its bound
// parameters. Equality is structural, so two differently formatted but
// equivalent queries are distinct signatures.
type Signature string

// KeyFunc derives a Signature from a query and its parameters.
type KeyFunc func(query string, args ...any) Signature

const argSeparator = "\x1f"

// DefaultKey concatenates the query text and each parameter in order.
func DefaultKey(query string, args ...any) Signature {
	if len(args) == 0 {
		return Signature(query)
	}
	var b strings.Builder
	b.WriteString(query)
	for _, arg := range args {
		b.WriteString(argSeparator)
		fmt.Fprintf(&b, "%T:%v", arg, arg)
	}
	return Signature(b.String())
}

// Stats counts cache traffic since creation.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Cache holds successfully computed results. Entries live until Clear.
//
// Cached values are shared between callers and must be treated as read-only;
// copy before mutating.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[Signature]T
	gen     uint64 // bumped by Clear
	key     KeyFunc
	name    string

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	key  KeyFunc
	name string
}

// WithKeyFunc replaces DefaultKey.
func WithKeyFunc(fn KeyFunc) Option {
	return func(o *options) { o.key = fn }
}

// WithName labels the cache in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New creates an empty cache.
func New[T any](opts ...Option) *Cache[T] {
	o := options{key: DefaultKey, name: "results"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		entries: make(map[Signature]T),
		key:     o.key,
		name:    o.name,
	}
}

// Key derives the signature for query and args with the configured KeyFunc.
func (c *Cache[T]) Key(query string, args ...any) Signature {
	return c.key(query, args...)
}

// Cached returns the stored result for sig without calling compute. On a
// miss it calls compute and stores the result only if compute succeeds;
// a failure is returned unchanged and nothing is stored.
//
// Concurrent misses on the same signature may both compute; the last
// successful store wins. A result computed across a Clear is returned but
// not stored.
func (c *Cache[T]) Cached(sig Signature, compute func() (T, error)) (T, error) {
	c.mu.RLock()
	v, ok := c.entries[sig]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		log.Trace().Str("cache", c.name).Str("signature", string(sig)).Msg("Cache hit")
		return v, nil
	}
	c.misses.Add(1)
	log.Trace().Str("cache", c.name).Str("signature", string(sig)).Msg("Cache miss")

	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries[sig] = v
	} else {
		log.Trace().Str("cache", c.name).Str("signature", string(sig)).Msg("Cache cleared during compute, result not stored")
	}
	c.mu.Unlock()
	return v, nil
}

// CachedQuery is Cached keyed by the signature of query and args.
func (c *Cache[T]) CachedQuery(query string, args []any, compute func() (T, error)) (T, error) {
	return c.Cached(c.key(query, args...), compute)
}

// Get returns the stored result for sig, if any.
func (c *Cache[T]) Get(sig Signature) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[sig]
	return v, ok
}

// Clear removes every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[Signature]T)
	c.gen++
	c.mu.Unlock()

	log.Debug().Str("cache", c.name).Int("entries", n).Msg("Cache cleared")
}

// Len returns the number of stored entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and the current size.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}
