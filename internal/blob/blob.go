// Package blob re-exports the blob contract and opens a backend by driver.
package blob

import (
	"context"
	"fmt"

	"entitygraph/internal/blob/core"
	"entitygraph/internal/infra/blob/fs"
	"entitygraph/internal/infra/blob/memory"
	"entitygraph/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrExists is returned by Put for a key already written.
	ErrExists = core.ErrExists
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = core.ErrNotFound
)

// S3Options configures the s3 driver.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
}

// Options selects and configures a backend. Driver defaults to fs.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Options
}

// Open returns the backend opts selects.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(opts.FSRoot)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    opts.S3.Bucket,
			Region:    opts.S3.Region,
			Endpoint:  opts.S3.Endpoint,
			Prefix:    opts.S3.Prefix,
			PathStyle: opts.S3.PathStyle,
		})
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
