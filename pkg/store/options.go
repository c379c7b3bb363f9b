package store

import (
	"github.com/xeipuuv/gojsonschema"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/pipeline"
)

type collectionConfig struct {
	schema        *gojsonschema.Schema
	incrementOnly []string
}

// CollectionOption configures a collection at creation time.
type CollectionOption func(*collectionConfig) error

// WithSchema makes the collection check every inserted or updated document against a JSON
// Schema. Documents are checked in their extended JSON form, i.e., ObjectIDs and timestamps are
// {"$oid": ...} and {"$date": ...} objects.
func WithSchema(schema string) CollectionOption {
	return func(c *collectionConfig) error {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			return dberrors.NewValidation("invalid JSON schema: %s", err)
		}
		c.schema = s
		return nil
	}
}

// WithIncrementOnly marks numeric counters that may be changed only with $inc. A $set on one of
// the paths, or on a parent or child of one, is a validation error.
func WithIncrementOnly(paths ...string) CollectionOption {
	return func(c *collectionConfig) error {
		for _, p := range paths {
			if err := document.ValidatePath(p); err != nil {
				return err
			}
		}
		c.incrementOnly = append(c.incrementOnly, paths...)
		return nil
	}
}

// FindOptions modify the result of a find. Build them with NewFindOptions and the setters.
type FindOptions struct {
	// Projection reshapes the result documents.
	Projection []pipeline.ProjectField
	// Sort orders the result.
	Sort []pipeline.SortKey
	// Skip drops the first documents of the result.
	Skip int64
	// Limit caps the size of the result; nil is unbounded.
	Limit *int64
}

// NewFindOptions creates empty find options.
func NewFindOptions() *FindOptions { return &FindOptions{} }

// SetProjection sets the projection.
func (o *FindOptions) SetProjection(fields ...pipeline.ProjectField) *FindOptions {
	o.Projection = fields
	return o
}

// SetSort sets the sort keys.
func (o *FindOptions) SetSort(keys ...pipeline.SortKey) *FindOptions {
	o.Sort = keys
	return o
}

// SetSkip sets the number of documents to skip.
func (o *FindOptions) SetSkip(n int64) *FindOptions {
	o.Skip = n
	return o
}

// SetLimit sets the maximum number of documents to return.
func (o *FindOptions) SetLimit(n int64) *FindOptions {
	o.Limit = &n
	return o
}

// mergeFindOptions folds a list of options into one, later options overriding earlier ones.
func mergeFindOptions(opts ...*FindOptions) *FindOptions {
	ret := NewFindOptions()
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Projection != nil {
			ret.Projection = o.Projection
		}
		if o.Sort != nil {
			ret.Sort = o.Sort
		}
		if o.Skip != 0 {
			ret.Skip = o.Skip
		}
		if o.Limit != nil {
			ret.Limit = o.Limit
		}
	}
	return ret
}

// stages converts the options into the equivalent pipeline stages.
func (o *FindOptions) stages() pipeline.Pipeline {
	ret := pipeline.Pipeline{}
	if len(o.Sort) > 0 {
		ret = append(ret, pipeline.Sort(o.Sort...))
	}
	if o.Skip != 0 {
		ret = append(ret, pipeline.Skip(o.Skip))
	}
	if o.Limit != nil {
		ret = append(ret, pipeline.Limit(*o.Limit))
	}
	if len(o.Projection) > 0 {
		ret = append(ret, pipeline.Project(o.Projection...))
	}
	return ret
}
