package domain

import (
	"context"
	"io"
)

// BlobWriter uploads an object to blob storage under the given path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
