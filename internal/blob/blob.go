// Package blob stores large binary payloads (submission inputs, result
// archives) outside the document store, keyed by opaque refs.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists under the given ref.
var ErrNotFound = errors.New("blob not found")

// Store is the content store consumed by the submission engine. Refs are
// opaque; a blob is immutable once written and removed only by Delete.
type Store interface {
	Put(ctx context.Context, r io.Reader) (ref string, err error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}
