package store

import "fmt"

// NewCollectionError adds the collection name to an error, keeping its reason.
func NewCollectionError(collection string, err error) error {
	return fmt.Errorf("collection %q: %w", collection, err)
}

// NewDocumentError adds the position of a document in a batch to an error, keeping its reason.
func NewDocumentError(i int, err error) error {
	return fmt.Errorf("document %d: %w", i, err)
}
