// Package storage names and stores the artifacts archived for uploaded
// tables: the CSV as received and its parquet snapshot.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Metadata keys recorded on archived artifacts.
const (
	MetaTable    = "table"
	MetaRowCount = "row-count"
	MetaColumns  = "columns"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	// Metadata keys are lower-case.
	Metadata map[string]string
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	// Delete treats a missing object as already deleted.
	Delete(ctx context.Context, key string) error
}

type ObjectStore interface {
	ObjectReader
	ObjectWriter
}
