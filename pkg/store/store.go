// Package store implements an in-memory document store made of named collections. Each
// collection serializes its writers and serves readers from immutable snapshots.
package store

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/pipeline"
)

// Store is a set of named collections.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	log         logr.Logger
}

// New creates an empty store.
func New(log logr.Logger) *Store {
	return &Store{
		collections: map[string]*Collection{},
		log:         log.WithName("store"),
	}
}

// Collection returns the named collection, creating an empty one on first use.
func (s *Store) Collection(name string) *Collection {
	s.mu.RLock()
	c, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c
	}
	c = newCollection(s, name, collectionConfig{})
	s.collections[name] = c
	s.log.V(2).Info("collection created", "collection", name)
	return c
}

// CreateCollection creates a collection with options. It is a validation error if the
// collection already exists or the options are invalid.
func (s *Store) CreateCollection(name string, opts ...CollectionOption) (*Collection, error) {
	if name == "" {
		return nil, dberrors.NewValidation("empty collection name")
	}

	config := collectionConfig{}
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, NewCollectionError(name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil, NewCollectionError(name, dberrors.NewValidation("collection already exists"))
	}
	c := newCollection(s, name, config)
	s.collections[name] = c
	s.log.V(2).Info("collection created", "collection", name, "schema", config.schema != nil,
		"increment-only", config.incrementOnly)
	return c, nil
}

// Drop removes the named collection and its documents. Handles to the collection held by
// callers keep working on the dropped data.
func (s *Store) Drop(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return false
	}
	delete(s.collections, name)
	s.log.V(2).Info("collection dropped", "collection", name)
	return true
}

// Collections returns the sorted names of the collections.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]string, 0, len(s.collections))
	for name := range s.collections {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Resolve returns the handle of an existing collection. Use it as the resolver when parsing
// pipelines whose lookup stages name collections of this store.
func (s *Store) Resolve(name string) (pipeline.CollectionRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, false
	}
	return c, true
}
