// Package memory implements store.Client in memory; intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/dsbench/internal/store"
)

// Store implements store.Client backed by process memory.
type Store struct {
	mu         sync.RWMutex
	records    map[string]map[string]store.Fields
	sortedKeys map[string][]string
	keysDirty  map[string]bool
}

// New returns a ready to use in-memory store.
func New() *Store {
	return &Store{
		records:    make(map[string]map[string]store.Fields),
		sortedKeys: make(map[string][]string),
		keysDirty:  make(map[string]bool),
	}
}

// Close satisfies store.Client and requires no action.
func (s *Store) Close() error { return nil }

// PutRecord stores a copy of fields under collection/key.
func (s *Store) PutRecord(_ context.Context, collection, key string, fields store.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.records[collection]
	if coll == nil {
		coll = make(map[string]store.Fields)
		s.records[collection] = coll
	}
	if _, exists := coll[key]; !exists {
		s.keysDirty[collection] = true
	}
	coll[key] = fields.Clone()
	return nil
}

// GetRecord returns a copy of the record under collection/key.
func (s *Store) GetRecord(_ context.Context, collection, key string) (store.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.records[collection][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return fields.Clone(), nil
}

// DeleteMulti removes the supplied keys; missing keys are ignored.
func (s *Store) DeleteMulti(_ context.Context, collection string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.records[collection]
	if coll == nil {
		return nil
	}
	for _, key := range keys {
		if _, ok := coll[key]; ok {
			delete(coll, key)
			s.keysDirty[collection] = true
		}
	}
	return nil
}

// ListKeys returns one ascending page of keys after opts.StartAfter.
func (s *Store) ListKeys(ctx context.Context, collection string, opts store.ListKeysOptions) (*store.KeysPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.sortedCollectionKeys(collection)
	start := 0
	if opts.StartAfter != "" {
		start = sort.SearchStrings(keys, opts.StartAfter)
		for start < len(keys) && keys[start] <= opts.StartAfter {
			start++
		}
	}
	page := &store.KeysPage{}
	if start >= len(keys) {
		return page, nil
	}
	end := len(keys)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
		page.Truncated = true
	}
	page.Keys = append(page.Keys, keys[start:end]...)
	if page.Truncated {
		page.NextStartAfter = page.Keys[len(page.Keys)-1]
	}
	return page, nil
}

// Len reports how many records collection currently holds.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[collection])
}

func (s *Store) sortedCollectionKeys(collection string) []string {
	if !s.keysDirty[collection] && s.sortedKeys[collection] != nil {
		return s.sortedKeys[collection]
	}
	coll := s.records[collection]
	keys := make([]string, 0, len(coll))
	for key := range coll {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.sortedKeys[collection] = keys
	s.keysDirty[collection] = false
	return keys
}
