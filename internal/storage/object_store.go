// Package storage persists validation artifacts. Runs write images to the
// local filesystem; an object store syncs them to durable storage so
// dashboards and later runs can pull them back down.
package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	// DownloadDir mirrors every object under prefix into dest. Used to pull
	// benchmark snapshots before a resumed run.
	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error

	// UploadDir pushes every file under src to the prefix. Used to sync
	// validation images after a run.
	UploadDir(ctx context.Context, bucket, prefix, src string) error
}
