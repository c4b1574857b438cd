// Package store implements the session manager's in-memory ordered map of
// 32-byte keys to opaque byte blobs, together with the background eviction
// loop that sweeps expired sessions.
//
// Grounded on github.com/hashicorp/go-immutable-radix/v2: the tree is
// immutable, so every mutation produces a new root that writers install with
// a single atomic.Pointer swap. Readers never take a lock — they load
// whichever root was current at the start of their call — which is exactly
// the "no global lock during steady-state reads" requirement.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix/v2"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keyspace"
)

// Key is the store's 32-byte primary key type.
type Key = [keyspace.KeySize]byte

// Predicate gates a CompareInsert against the previous value for key, if
// any. Returning false leaves the store untouched.
type Predicate func(prev []byte, hadPrev bool) bool

// AlwaysInsert is the always-true predicate the session manager service
// uses for every write: last-write-wins, no conflict detection.
func AlwaysInsert([]byte, bool) bool { return true }

// Store is a concurrent ordered map of 32-byte key to byte slice.
type Store struct {
	root atomic.Pointer[iradix.Tree[[]byte]]
	mu   sync.Mutex // serializes writers; readers never take this lock
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.root.Store(iradix.New[[]byte]())
	return s
}

// Get looks up key without blocking on writers.
func (s *Store) Get(key Key) ([]byte, bool) {
	tree := s.root.Load()
	return tree.Get(key[:])
}

// CompareInsert inserts or replaces key's value, gated by predicate applied
// to the previous value. The session manager always calls this with
// AlwaysInsert: last write wins, replays of identical payloads are
// indistinguishable from a single write.
func (s *Store) CompareInsert(key Key, value []byte, predicate Predicate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.root.Load()
	prev, ok := tree.Get(key[:])
	if predicate != nil && !predicate(prev, ok) {
		return
	}
	next, _, _ := tree.Insert(key[:], value)
	s.root.Store(next)
}

// Front returns the minimum key currently stored, without removing it.
func (s *Store) Front() (Key, []byte, bool) {
	tree := s.root.Load()
	k, v, ok := tree.Root().Minimum()
	return toKey(k), v, ok
}

// PopFront removes and returns the minimum key currently stored.
func (s *Store) PopFront() (Key, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.root.Load()
	k, v, ok := tree.Root().Minimum()
	if !ok {
		return Key{}, nil, false
	}
	next, _, _ := tree.Delete(k)
	s.root.Store(next)
	return toKey(k), v, true
}

// Len reports the number of entries currently stored.
func (s *Store) Len() int {
	return s.root.Load().Len()
}

func toKey(raw []byte) Key {
	var k Key
	copy(k[:], raw)
	return k
}

// RunEviction loops until ctx is cancelled, popping every entry whose key
// sorts strictly before the lifespan pivot, then sleeping interval before the next
// sweep. It is meant to run as its own goroutine, one per session-manager
// process, started once at boot and aborted on shutdown.
func RunEviction(ctx context.Context, s *Store, lifespan, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.evictOnce(lifespan)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) evictOnce(lifespan time.Duration) {
	pivot, err := keyspace.PivotKey(lifespan)
	if err != nil {
		// Pivot arithmetic underflowed before the unix epoch (an
		// unreasonably large lifespan relative to the current clock); skip
		// this sweep rather than evict everything under a garbage pivot.
		// The next tick retries with a fresh "now".
		return
	}
	for {
		front, _, ok := s.Front()
		if !ok || !keyspace.Less(front, pivot) {
			return
		}
		s.PopFront()
	}
}
