package store

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/util"
)

// PostCounters are the engagement counters of posts, changed only with $inc.
var PostCounters = []string{"metrics.likes", "metrics.comments"}

// PostSchema is the JSON Schema of the posts collection: engagement counters are non-negative
// integers when present and hashtags is a list of strings.
const PostSchema = `{
  "type": "object",
  "properties": {
    "hashtags": {
      "type": "array",
      "items": {"type": "string"}
    },
    "metrics": {
      "type": "object",
      "properties": {
        "likes": {"type": "integer", "minimum": 0},
        "comments": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

func validateSchema(schema *gojsonschema.Schema, doc document.Document) error {
	if schema == nil {
		return nil
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(document.ToExtendedJSON(doc)))
	if err != nil {
		return dberrors.NewValidation("schema validation: %s", err)
	}

	if !res.Valid() {
		errs := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			errs = append(errs, desc.String())
		}
		return dberrors.NewValidation("document violates schema: %s", strings.Join(errs, "; "))
	}

	return nil
}

// describe renders an id for log and error messages.
func describe(id any) string {
	return util.Stringify(document.ToExtendedJSON(id))
}
