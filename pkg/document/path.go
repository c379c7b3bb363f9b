package document

import (
	"strings"

	"github.com/ohler55/ojg/jp"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/l7mp/socialdb/pkg/dberrors"
)

// SplitPath splits a dotted field path into its segments.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// ValidatePath checks that a dotted path has no empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return dberrors.NewValidation("empty field path")
	}
	for _, s := range SplitPath(path) {
		if s == "" {
			return dberrors.NewValidation("invalid field path %q: empty segment", path)
		}
	}
	return nil
}

// Get returns the value at a dotted path. A path that runs through an absent parent or a
// non-object value yields found=false. The returned value is not copied.
func Get(doc Document, path string) (any, bool) {
	v, found, err := unstructured.NestedFieldNoCopy(doc, SplitPath(path)...)
	if err != nil || !found {
		return nil, false
	}
	return v, true
}

// Set writes a value at a dotted path, creating missing intermediate objects. Setting through an
// existing non-object value is a validation error. The document is modified in place.
func Set(doc Document, path string, value any) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	fields := SplitPath(path)
	cur := doc
	var expr jp.Expr
	for i, f := range fields {
		expr = append(expr, jp.Child(f))
		if i == len(fields)-1 {
			break
		}
		next, ok := cur[f]
		if !ok || next == nil {
			m := Document{}
			cur[f] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return dberrors.NewValidation("cannot set %q: field %q holds a %s",
				path, strings.Join(fields[:i+1], "."), KindOf(next))
		}
		cur = m
	}

	return expr.Set(doc, value)
}

// Remove deletes the value at a dotted path; removing an absent path is a no-op.
func Remove(doc Document, path string) {
	unstructured.RemoveNestedField(doc, SplitPath(path)...)
}

// Has returns true if the dotted path is present in the document, including when it holds null.
func Has(doc Document, path string) bool {
	_, ok := Get(doc, path)
	return ok
}
