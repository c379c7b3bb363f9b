// Package loader loads datasets, i.e., YAML or JSON files mapping collection names to lists of
// documents, into a store.
package loader

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/panjf2000/ants/v2"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/store"
)

// Dataset maps collection names to documents.
type Dataset map[string][]any

// Collections returns the sorted collection names of the dataset.
func (d Dataset) Collections() []string {
	ret := make([]string, 0, len(d))
	for name := range d {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Decode parses a dataset. Extended JSON markers like {"$oid": "..."} and {"$date": "..."} are
// converted to ObjectIDs and timestamps.
func Decode(data []byte) (Dataset, error) {
	v, err := document.Decode(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return Dataset{}, nil
	}

	elems, ok := document.Elems(v)
	if !ok {
		return nil, dberrors.NewValidation("dataset must map collection names to documents, got %s",
			document.KindOf(v))
	}

	ret := Dataset{}
	for _, e := range elems {
		if e.Value == nil {
			ret[e.Key] = []any{}
			continue
		}
		docs, ok := document.List(e.Value)
		if !ok {
			return nil, dberrors.NewValidation("collection %q: expected a list of documents, got %s",
				e.Key, document.KindOf(e.Value))
		}
		ret[e.Key] = docs
	}
	return ret, nil
}

// ReadFile reads and decodes a dataset file.
func ReadFile(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	ds, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	return ds, nil
}

// Loader inserts datasets into a store, one collection per worker.
type Loader struct {
	store   *store.Store
	workers int
	options map[string][]store.CollectionOption
	log     logr.Logger
}

// Option configures a loader.
type Option func(*Loader)

// WithWorkers sets the number of collections loaded in parallel.
func WithWorkers(n int) Option {
	return func(l *Loader) { l.workers = n }
}

// WithSchema creates the named collection with a JSON Schema unless it already exists.
func WithSchema(collection, schema string) Option {
	return func(l *Loader) {
		l.options[collection] = append(l.options[collection], store.WithSchema(schema))
	}
}

// WithIncrementOnly creates the named collection with counters that may only be changed with
// $inc, unless the collection already exists.
func WithIncrementOnly(collection string, paths ...string) Option {
	return func(l *Loader) {
		l.options[collection] = append(l.options[collection], store.WithIncrementOnly(paths...))
	}
}

// New creates a loader.
func New(s *store.Store, log logr.Logger, opts ...Option) *Loader {
	l := &Loader{store: s, workers: 4, options: map[string][]store.CollectionOption{}, log: log.WithName("loader")}
	for _, opt := range opts {
		opt(l)
	}
	if l.workers < 1 {
		l.workers = 1
	}
	return l
}

// Load inserts the dataset and returns the number of documents inserted per collection. The
// documents of a collection are inserted in order and a collection stops loading at its first
// failure; the other collections are loaded regardless. All failures are returned together.
func (l *Loader) Load(ds Dataset) (map[string]int, error) {
	for _, name := range ds.Collections() {
		opts, ok := l.options[name]
		if !ok {
			continue
		}
		if _, exists := l.store.Resolve(name); exists {
			continue
		}
		if _, err := l.store.CreateCollection(name, opts...); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(l.workers, ants.WithPanicHandler(func(v any) {
		l.log.Error(fmt.Errorf("%v", v), "loader worker panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var mu sync.Mutex
	var wg sync.WaitGroup
	counts := map[string]int{}
	errs := []error{}

	for _, name := range ds.Collections() {
		docs := ds[name]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			ids, err := l.store.Collection(name).InsertMany(docs)

			mu.Lock()
			defer mu.Unlock()
			counts[name] = len(ids)
			if err != nil {
				errs = append(errs, err)
			}
			l.log.V(2).Info("collection loaded", "collection", name, "documents", len(ids))
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("collection %q: %w", name, err))
			mu.Unlock()
		}
	}
	wg.Wait()

	return counts, errors.Join(errs...)
}
