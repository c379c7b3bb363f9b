package store

import (
	"slices"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/xeipuuv/gojsonschema"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/pipeline"
	"github.com/l7mp/socialdb/pkg/predicate"
)

var _ pipeline.CollectionRef = &Collection{}

// Collection is a named set of documents keyed by _id. Stored documents are never modified in
// place: writers replace them with updated copies under the write lock, so a reader can keep
// using the slice it copied under the read lock after releasing it.
type Collection struct {
	name          string
	store         *Store
	schema        *gojsonschema.Schema
	incrementOnly []string
	log           logr.Logger

	mu   sync.RWMutex
	docs []document.Document
	ids  map[string]bool
}

func newCollection(s *Store, name string, config collectionConfig) *Collection {
	return &Collection{
		name:          name,
		store:         s,
		schema:        config.schema,
		incrementOnly: config.incrementOnly,
		log:           s.log.WithValues("collection", name),
		docs:          []document.Document{},
		ids:           map[string]bool{},
	}
}

// Name returns the name of the collection.
func (c *Collection) Name() string { return c.name }

// Documents returns the current snapshot of the collection. The documents must not be
// modified.
func (c *Collection) Documents() []document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[:len(c.docs):len(c.docs)]
}

// Len returns the number of documents in the collection.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// InsertOne stores a copy of the document and returns its _id. A fresh ObjectID is assigned if
// the document has no _id.
func (c *Collection) InsertOne(doc any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.insert(doc)
	if err != nil {
		return nil, NewCollectionError(c.name, err)
	}
	return id, nil
}

// InsertMany inserts the documents in order. It stops at the first failure and returns the ids
// of the documents inserted before it.
func (c *Collection) InsertMany(docs []any) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]any, 0, len(docs))
	for i, doc := range docs {
		id, err := c.insert(doc)
		if err != nil {
			return ids, NewCollectionError(c.name, NewDocumentError(i, err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// insert must be called with the write lock held.
func (c *Collection) insert(v any) (any, error) {
	doc, err := document.New(v)
	if err != nil {
		return nil, err
	}

	id, ok := document.GetID(doc)
	if !ok {
		id = document.NewID()
		doc[document.IDField] = id
	}
	if document.KindOf(id) == document.KindArray {
		return nil, dberrors.NewValidation("%s cannot be an array", document.IDField)
	}

	if err := validateSchema(c.schema, doc); err != nil {
		return nil, err
	}

	key := document.Key(id)
	if c.ids[key] {
		return nil, dberrors.NewDuplicateKey(c.name, describe(id))
	}

	// readers never look past the length of their snapshot
	c.docs = append(c.docs, doc)
	c.ids[key] = true

	c.log.V(4).Info("document inserted", "id", describe(id))

	return id, nil
}

// Find returns copies of the documents matching the filter. The filter is a predicate.Filter or
// a structured filter like bson.D{{"hashtags", "#mongodb"}}; nil matches every document. Options
// are applied in the order sort, skip, limit, projection.
func (c *Collection) Find(filter any, opts ...*FindOptions) ([]document.Document, error) {
	f, err := predicate.Parse(filter)
	if err != nil {
		return nil, NewCollectionError(c.name, err)
	}

	o := mergeFindOptions(opts...)
	p := append(pipeline.Pipeline{pipeline.Match(f)}, o.stages()...)
	if err := p.Validate(); err != nil {
		return nil, NewCollectionError(c.name, err)
	}

	res, err := pipeline.NewExecutor(c.log).Run(p, c.Documents())
	if err != nil {
		return nil, NewCollectionError(c.name, err)
	}

	c.log.V(4).Info("find", "filter", f.String(), "result-size", len(res))

	if len(o.Projection) > 0 {
		// projection already returns fresh documents
		return res, nil
	}
	return copyDocuments(res), nil
}

// FindOne returns a copy of the first document matching the filter. No match is not an error.
func (c *Collection) FindOne(filter any, opts ...*FindOptions) (document.Document, bool, error) {
	res, err := c.Find(filter, append(opts, NewFindOptions().SetLimit(1))...)
	if err != nil || len(res) == 0 {
		return nil, false, err
	}
	return res[0], true, nil
}

// CountDocuments returns the number of documents matching the filter.
func (c *Collection) CountDocuments(filter any) (int64, error) {
	f, err := predicate.Parse(filter)
	if err != nil {
		return 0, NewCollectionError(c.name, err)
	}

	var n int64
	for _, doc := range c.Documents() {
		ok, err := predicate.Match(f, doc)
		if err != nil {
			return 0, NewCollectionError(c.name, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// UpdateOne applies the update to the first document matching the filter and returns the number
// of updated documents.
func (c *Collection) UpdateOne(filter any, update Update) (int64, error) {
	return c.update(filter, update, false)
}

// UpdateMany applies the update to every document matching the filter and returns the number of
// updated documents. Either all matching documents are updated or, on error, none.
func (c *Collection) UpdateMany(filter any, update Update) (int64, error) {
	return c.update(filter, update, true)
}

// checkIncrementOnly rejects a $set that would overwrite a counter.
func (c *Collection) checkIncrementOnly(u Update) error {
	if u.Op != OpSet {
		return nil
	}
	for _, f := range u.Fields {
		for _, p := range c.incrementOnly {
			if overlaps(f.Key, p) {
				return dberrors.NewValidation("field %q may only be changed with $inc", p)
			}
		}
	}
	return nil
}

func (c *Collection) update(filter any, u Update, many bool) (int64, error) {
	f, err := predicate.Parse(filter)
	if err != nil {
		return 0, NewCollectionError(c.name, err)
	}
	if err := u.Validate(); err != nil {
		return 0, NewCollectionError(c.name, err)
	}
	if err := c.checkIncrementOnly(u); err != nil {
		return 0, NewCollectionError(c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var docs []document.Document
	var n int64
	for i, doc := range c.docs {
		ok, err := predicate.Match(f, doc)
		if err != nil {
			return 0, NewCollectionError(c.name, err)
		}
		if !ok {
			continue
		}

		out, err := u.apply(doc)
		if err != nil {
			return 0, NewCollectionError(c.name, err)
		}
		if err := validateSchema(c.schema, out); err != nil {
			return 0, NewCollectionError(c.name, err)
		}

		if docs == nil {
			docs = slices.Clone(c.docs)
		}
		docs[i] = out
		n++

		if !many {
			break
		}
	}

	if docs != nil {
		c.docs = docs
	}

	c.log.V(4).Info("update", "filter", f.String(), "update", u.String(), "updated", n)

	return n, nil
}

// DeleteOne removes the first document matching the filter and returns the number of removed
// documents.
func (c *Collection) DeleteOne(filter any) (int64, error) {
	return c.delete(filter, false)
}

// DeleteMany removes every document matching the filter and returns the number of removed
// documents.
func (c *Collection) DeleteMany(filter any) (int64, error) {
	return c.delete(filter, true)
}

func (c *Collection) delete(filter any, many bool) (int64, error) {
	f, err := predicate.Parse(filter)
	if err != nil {
		return 0, NewCollectionError(c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keep := make([]document.Document, 0, len(c.docs))
	deleted := []string{}
	for _, doc := range c.docs {
		if many || len(deleted) == 0 {
			ok, err := predicate.Match(f, doc)
			if err != nil {
				return 0, NewCollectionError(c.name, err)
			}
			if ok {
				id, _ := document.GetID(doc)
				deleted = append(deleted, document.Key(id))
				continue
			}
		}
		keep = append(keep, doc)
	}

	if len(deleted) > 0 {
		c.docs = keep
		for _, key := range deleted {
			delete(c.ids, key)
		}
	}

	c.log.V(4).Info("delete", "filter", f.String(), "deleted", len(deleted))

	return int64(len(deleted)), nil
}

// Aggregate runs a pipeline on the collection and returns copies of the result documents. The
// pipeline is a pipeline.Pipeline or a structured list of stages; lookup stages may name other
// collections of the store. The pipeline is validated before any stage runs. The source and
// every lookup target are read at the same point in time.
func (c *Collection) Aggregate(spec any) ([]document.Document, error) {
	p, err := pipeline.Parse(spec, c.resolve)
	if err != nil {
		return nil, NewCollectionError(c.name, err)
	}

	snapshots := c.snapshot(p)

	x := pipeline.NewExecutor(c.log)
	for name, docs := range snapshots {
		x.WithSnapshot(name, docs)
	}

	res, err := x.Run(p, snapshots[c.name])
	if err != nil {
		return nil, NewCollectionError(c.name, err)
	}

	return copyDocuments(res), nil
}

func (c *Collection) resolve(name string) (pipeline.CollectionRef, bool) {
	if c.store == nil {
		return nil, false
	}
	return c.store.Resolve(name)
}

// snapshot read-locks the collection and the lookup targets of the pipeline in name order and
// copies their document lists.
func (c *Collection) snapshot(p pipeline.Pipeline) map[string][]document.Document {
	colls := map[string]*Collection{c.name: c}
	for _, ref := range p.LookupTargets() {
		if t, ok := ref.(*Collection); ok {
			if _, dup := colls[t.name]; !dup {
				colls[t.name] = t
			}
		}
	}

	names := make([]string, 0, len(colls))
	for name := range colls {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		colls[name].mu.RLock()
	}

	ret := make(map[string][]document.Document, len(colls))
	for _, name := range names {
		docs := colls[name].docs
		ret[name] = docs[:len(docs):len(docs)]
	}

	for _, name := range names {
		colls[name].mu.RUnlock()
	}

	return ret
}

func copyDocuments(docs []document.Document) []document.Document {
	ret := make([]document.Document, len(docs))
	for i := range docs {
		ret[i] = document.DeepCopyDocument(docs[i])
	}
	return ret
}
