// Package storage publishes packaged release units to the download bucket.
package storage

import (
	"context"
	"time"
)

// ObjectInfo describes one stored release unit.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// ObjectStore is the object-storage capability the publisher and the download
// surface depend on. Production uses the S3-compatible adapter; tests use
// in-memory doubles.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, key string) error
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
