// Package speculative implements the Speculative Executor: ahead-of-need
// execution of pure capabilities against a likely-next intent, cached by
// canonicalized (capability, args) key and discarded silently on a miss
// (a capability's Pure flag).
package speculative

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
)

// DefaultTTL is how long a speculative result stays eligible for reuse
// before it's treated as stale.
const DefaultTTL = 5 * time.Minute

// DefaultCacheSize bounds the number of speculative results held at once.
const DefaultCacheSize = 100

// DefaultConcurrency is the default ceiling on simultaneous speculative
// branches in flight, independent of and on top of any per-endpoint
// inflight caps the branch's tool calls will themselves respect.
const DefaultConcurrency = 4

// Runner executes a capability's code, mirroring executor.CodeRunner —
// the Speculative Executor drives the same sandbox, just ahead of an
// explicit request.
type Runner interface {
	RunCapability(ctx context.Context, cap models.Capability, args map[string]any) (any, error)
}

type cacheEntry struct {
	value     any
	err       error
	expiresAt time.Time
}

// Executor launches speculative branches for capabilities flagged Pure,
// caches their results, and serves a matching real request from cache
// instead of re-executing — silently falling through to normal execution
// on any cache miss.
type Executor struct {
	runner Runner
	cache  *lru.Cache[string, *cacheEntry]
	ttl    time.Duration

	mu      sync.Mutex
	inFlight map[string]bool
	sem      chan struct{}
}

// New builds a speculative Executor with the given cache size, entry
// TTL, and concurrency ceiling. Zero values fall back to the package
// defaults.
func New(runner Runner, cacheSize int, ttl time.Duration, concurrency int) (*Executor, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	cache, err := lru.New[string, *cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("building speculative result cache: %w", err)
	}

	return &Executor{
		runner:   runner,
		cache:    cache,
		ttl:      ttl,
		inFlight: make(map[string]bool),
		sem:      make(chan struct{}, concurrency),
	}, nil
}

// CacheKey canonicalizes (capability FQDN, args) into the lookup key
// shared by Speculate and TryGet.
func CacheKey(fqdn string, args map[string]any) (string, error) {
	canon, err := endpoint.CanonicalizeArgs(args)
	if err != nil {
		return "", fmt.Errorf("canonicalizing speculative args: %w", err)
	}
	return fqdn + "|" + canon, nil
}

// Speculate launches a best-effort background execution of cap(args) if
// cap is Pure, a matching branch isn't already in flight or cached, and a
// concurrency slot is free. It never blocks the caller and never
// surfaces an error — a speculative branch that fails or is skipped
// simply leaves nothing in the cache for TryGet to find.
func (e *Executor) Speculate(ctx context.Context, cap models.Capability, args map[string]any) {
	if !cap.Pure {
		return
	}
	key, err := CacheKey(cap.FQDN, args)
	if err != nil {
		return
	}

	e.mu.Lock()
	if e.inFlight[key] {
		e.mu.Unlock()
		return
	}
	if _, ok := e.cache.Get(key); ok {
		e.mu.Unlock()
		return
	}
	e.inFlight[key] = true
	e.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	default:
		e.mu.Lock()
		delete(e.inFlight, key)
		e.mu.Unlock()
		return // at the concurrency ceiling; discard rather than queue
	}

	go func() {
		defer func() {
			<-e.sem
			e.mu.Lock()
			delete(e.inFlight, key)
			e.mu.Unlock()
		}()

		value, err := e.runner.RunCapability(ctx, cap, args)
		e.cache.Add(key, &cacheEntry{value: value, err: err, expiresAt: time.Now().Add(e.ttl)})
	}()
}

// TryGet returns a cached speculative result for (fqdn, args) if one
// exists and hasn't expired. The second return value is false on any
// miss — expired, never speculated, or still in flight — and the caller
// should fall through to normal execution.
func (e *Executor) TryGet(fqdn string, args map[string]any) (value any, execErr error, ok bool) {
	key, err := CacheKey(fqdn, args)
	if err != nil {
		return nil, nil, false
	}

	entry, found := e.cache.Get(key)
	if !found {
		return nil, nil, false
	}
	if time.Now().After(entry.expiresAt) {
		e.cache.Remove(key)
		return nil, nil, false
	}
	return entry.value, entry.err, true
}
