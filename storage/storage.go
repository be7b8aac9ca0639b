// Package storage is a process-wide key/value store that outlives domains.
//
// Domains use it to carry state across a hot swap. Values allocated through
// the store's Scope are owned by the storage domain and survive any domain
// reclaim; values a domain allocated itself can be handed to its successor
// with resource.ForwardStored.
package storage

import (
	"fmt"
	"slices"
	"sync"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/sheap"
)

// Store maps keys to values of any type.
type Store struct {
	heap  *sheap.Heap
	items map[string]any
	mu    sync.RWMutex
}

// New creates a store. Shared values made through Scope live on heap.
func New(heap *sheap.Heap) *Store {
	return &Store{
		heap:  heap,
		items: make(map[string]any),
	}
}

// Scope returns the allocation scope owned by the storage domain.
func (s *Store) Scope() sheap.Scope {
	if s.heap == nil {
		return sheap.Scope{}
	}
	return s.heap.Scope(dr.StorageDomain)
}

// Insert stores v under key and returns the previous value, if any.
func (s *Store) Insert(key string, v any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.items[key]
	s.items[key] = v
	return prev, ok
}

// Lookup returns the untyped value stored under key.
func (s *Store) Lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Remove deletes key and returns its value.
func (s *Store) Remove(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	delete(s.items, key)
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Handles returns the heap handles of the shared values stored under keys.
// Keys holding anything else are skipped.
func (s *Store) Handles(keys ...string) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uint64
	for _, k := range keys {
		if sh, ok := s.items[k].(sheap.Shared); ok && sh.Valid() {
			out = append(out, sh.Handle())
		}
	}
	return out
}

// Get returns the value under key as a T.
func Get[T any](s *Store, key string) (T, error) {
	var zero T
	v, ok := s.Lookup(key)
	if !ok {
		return zero, errors.NotFound(errors.PhaseStorage, "key", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseStorage, fmt.Sprintf("%T", zero), fmt.Sprintf("%T", v))
	}
	return t, nil
}

// GetOrInsertWith returns the value under key, storing the result of fn
// first if the key is absent. fn runs with the store locked and must not
// call back into it.
func GetOrInsertWith[T any](s *Store, key string, fn func() (T, error)) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.items[key]; ok {
		t, ok := v.(T)
		if !ok {
			return zero, errors.TypeMismatch(errors.PhaseStorage, fmt.Sprintf("%T", zero), fmt.Sprintf("%T", v))
		}
		return t, nil
	}
	v, err := fn()
	if err != nil {
		return zero, err
	}
	s.items[key] = v
	return v, nil
}
