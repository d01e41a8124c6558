package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object: its key, byte size, and upload
// time.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads archive batches to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader serves archived history back: Get streams one month's JSONL
// file, List discovers which months exist under a kind prefix.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies aged rows out of the history stores into cold storage.
// Each call returns how many records it archived; deleting the originals is
// the caller's decision once the upload has succeeded.
type Archiver interface {
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
	ArchiveAlertEvents(ctx context.Context, before time.Time) (int64, error)
}
