// Package cache keeps the client's view of clusters, anomalies and
// remediations consistent with the backend: it serves last-known data,
// refreshes in the background, collapses concurrent refreshes of the same key
// into one network read, and re-fetches after confirmed mutations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a single refresh.
const DefaultFetchTimeout = 15 * time.Second

// maxLoadAttempts bounds how often Load re-fetches when the entry keeps being
// invalidated while a fetch is in flight.
const maxLoadAttempts = 3

var (
	// ErrClosed is returned once the session's store has been torn down.
	ErrClosed = errors.New("cache: store closed")

	// ErrMutationInFlight is returned when a key already has a mutation running.
	ErrMutationInFlight = errors.New("cache: mutation already in flight for key")
)

// Fetcher performs the network read for a key.
type Fetcher func(ctx context.Context, key Key) (any, error)

// Result is a point-in-time view of one entry.
type Result struct {
	Key        Key
	Value      any
	OK         bool // a value has been fetched at least once
	Fresh      bool // no invalidation since the value was fetched
	Refreshing bool
	FetchedAt  time.Time
	Err        error // outcome of the most recent refresh
}

// Value extracts a typed value from a Result.
func Value[T any](r Result) (T, bool) {
	v, ok := r.Value.(T)
	return v, ok && r.OK
}

type entry struct {
	value     any
	ok        bool
	fresh     bool
	fetchedAt time.Time
	err       error

	gen       uint64 // bumped by every invalidation
	storedGen uint64 // generation of the fetch that produced value

	inflight  bool
	scheduled bool
	mutating  bool
}

// Store is the session's synchronized cache. Create one per session with New
// and release it with Close; it is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	fetchers  map[string]Fetcher
	listeners map[Key][]chan Result
	hooks     []func([]Key)
	flight    singleflight.Group
	timeout   time.Duration
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithFetchTimeout sets the per-refresh deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger replaces the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates an empty store for one client session.
func New(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:   make(map[Key]*entry),
		fetchers:  make(map[string]Fetcher),
		listeners: make(map[Key][]chan Result),
		timeout:   DefaultFetchTimeout,
		ctx:       ctx,
		cancel:    cancel,
		log:       slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds the fetcher used for every key of a collection.
func (s *Store) Register(collection string, f Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchers[collection] = f
}

// OnMutation registers a hook called with the invalidated keys after every
// confirmed mutation.
func (s *Store) OnMutation(fn func(keys []Key)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Read returns whatever is cached for key without blocking and schedules a
// background refresh unless one is already pending for that key.
func (s *Store) Read(key Key) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	res := e.snapshot(key)
	switch {
	case !e.ok:
		readsTotal.WithLabelValues(key.Collection, "miss").Inc()
	case e.fresh:
		readsTotal.WithLabelValues(key.Collection, "hit").Inc()
	default:
		readsTotal.WithLabelValues(key.Collection, "stale").Inc()
	}

	if s.closed || e.inflight || e.scheduled {
		return res
	}
	e.scheduled = true
	res.Refreshing = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.flight.DoChan(key.String(), func() (any, error) { return s.fetch(key), nil })
		s.mu.Lock()
		e.scheduled = false
		s.mu.Unlock()
	}()
	return res
}

// Load returns a fresh value for key, fetching when the entry is missing or
// has been invalidated. Concurrent loads of one key share a single fetch.
// On fetch failure the last good value (if any) is returned with the error.
func (s *Store) Load(ctx context.Context, key Key) (Result, error) {
	var res Result
	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Result{Key: key}, ErrClosed
		}
		e := s.entryLocked(key)
		if e.ok && e.fresh {
			res = e.snapshot(key)
			s.mu.Unlock()
			readsTotal.WithLabelValues(key.Collection, "hit").Inc()
			return res, nil
		}
		s.mu.Unlock()
		if attempt == 0 {
			readsTotal.WithLabelValues(key.Collection, "miss").Inc()
		}

		ch := s.flight.DoChan(key.String(), func() (any, error) { return s.fetch(key), nil })
		select {
		case r := <-ch:
			if r.Shared {
				joinedRefreshes.WithLabelValues(key.Collection).Inc()
			}
			res = r.Val.(Result)
		case <-ctx.Done():
			return s.snapshot(key), ctx.Err()
		}

		if res.Err != nil {
			return res, res.Err
		}
		if res.Fresh {
			return res, nil
		}
		// invalidated while the fetch was in flight; fetch again
	}
	return res, nil
}

// Peek returns the cached state for key without scheduling anything.
func (s *Store) Peek(key Key) Result {
	return s.snapshot(key)
}

// Invalidate clears the freshness of the given keys. The next Load refetches.
func (s *Store) Invalidate(keys ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if e, ok := s.entries[k]; ok {
			e.invalidate()
		}
	}
}

// InvalidateCollection invalidates every cached key of a collection and
// returns the affected keys.
func (s *Store) InvalidateCollection(collection string) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []Key
	for k, e := range s.entries {
		if k.Collection == collection {
			e.invalidate()
			keys = append(keys, k)
		}
	}
	return keys
}

// Mutate runs fn (a backend write). Only after fn succeeds are key and its
// dependents invalidated and re-fetched, so the cache never shows a write the
// backend has not confirmed. On failure the cache is left untouched.
func (s *Store) Mutate(ctx context.Context, key Key, fn func(ctx context.Context) error, dependents ...Key) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e := s.entryLocked(key)
	if e.mutating {
		s.mu.Unlock()
		mutationsTotal.WithLabelValues(key.Collection, "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrMutationInFlight, key)
	}
	e.mutating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		e.mutating = false
		s.mu.Unlock()
	}()

	if err := fn(ctx); err != nil {
		mutationsTotal.WithLabelValues(key.Collection, "failed").Inc()
		return err
	}
	mutationsTotal.WithLabelValues(key.Collection, "ok").Inc()

	keys := append([]Key{key}, dependents...)
	s.Invalidate(keys...)

	s.mu.Lock()
	hooks := append([]func([]Key){}, s.hooks...)
	var refetch []Key
	for _, k := range keys {
		if _, ok := s.fetchers[k.Collection]; !ok {
			continue
		}
		if dep, ok := s.entries[k]; ok && (k == key || dep.ok) {
			refetch = append(refetch, k)
		}
	}
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(keys)
	}

	for _, k := range refetch {
		if _, err := s.Load(ctx, k); err != nil {
			// the write is confirmed; the entry stays stale and the next Load retries
			s.log.Warn("refresh after mutation failed", "key", k.String(), "error", err)
		}
	}
	return nil
}

// Subscribe returns a channel that receives the entry state every time key is
// populated, plus a function that cancels the subscription.
func (s *Store) Subscribe(key Key) (<-chan Result, func()) {
	ch := make(chan Result, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.listeners[key] = append(s.listeners[key], ch)
	if e, ok := s.entries[key]; ok && e.ok {
		ch <- e.snapshot(key)
	}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		listeners := s.listeners[key]
		for i, l := range listeners {
			if l == ch {
				s.listeners[key] = append(listeners[:i], listeners[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe
}

// Keys returns every key with an entry.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close ends the session: pending refreshes are cancelled, subscribers'
// channels are closed and every entry is dropped.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	for k, listeners := range s.listeners {
		for _, ch := range listeners {
			close(ch)
		}
		delete(s.listeners, k)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.entries = make(map[Key]*entry)
	s.mu.Unlock()
}

// fetch runs inside the singleflight call for key, so at most one runs per key.
func (s *Store) fetch(key Key) Result {
	s.mu.Lock()
	e := s.entryLocked(key)
	gen := e.gen
	e.inflight = true
	f := s.fetchers[key.Collection]
	s.mu.Unlock()

	var (
		v   any
		err error
	)
	if f == nil {
		err = fmt.Errorf("cache: no fetcher registered for %q", key.Collection)
	} else {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		v, err = f(ctx, key)
		cancel()
	}

	if err != nil {
		refreshesTotal.WithLabelValues(key.Collection, "error").Inc()
		s.log.Debug("refresh failed", "key", key.String(), "error", err)
	} else {
		refreshesTotal.WithLabelValues(key.Collection, "ok").Inc()
	}
	return s.apply(key, gen, v, err)
}

// apply stores a fetch outcome. A result older than the stored one is
// discarded; a result fetched before the latest invalidation is kept (last
// write wins) but not marked fresh.
func (s *Store) apply(key Key, gen uint64, v any, err error) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	e.inflight = false
	e.scheduled = false
	if err != nil {
		e.err = err
		res := e.snapshot(key)
		return res
	}
	if e.ok && gen < e.storedGen {
		return e.snapshot(key)
	}
	e.value = v
	e.ok = true
	e.err = nil
	e.storedGen = gen
	e.fresh = gen == e.gen
	e.fetchedAt = time.Now()

	res := e.snapshot(key)
	for _, ch := range s.listeners[key] {
		select {
		case ch <- res:
		default:
		}
	}
	return res
}

func (s *Store) snapshot(key Key) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.snapshot(key)
	}
	return Result{Key: key}
}

func (s *Store) entryLocked(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

func (e *entry) invalidate() {
	e.fresh = false
	e.gen++
}

func (e *entry) snapshot(key Key) Result {
	return Result{
		Key:        key,
		Value:      e.value,
		OK:         e.ok,
		Fresh:      e.fresh,
		Refreshing: e.inflight || e.scheduled,
		FetchedAt:  e.fetchedAt,
		Err:        e.err,
	}
}
