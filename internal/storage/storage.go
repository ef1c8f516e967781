// Package storage abstracts the mirror push target: a local directory or
// an S3-compatible bucket.
package storage

import (
	"context"
	"io"
	"time"
)

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
}

type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64) error
	// Stat reports the object when present; found is false for a missing key.
	Stat(ctx context.Context, key string) (info ObjectInfo, found bool, err error)
}
