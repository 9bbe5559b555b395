// Package blobstore lists, probes and deletes objects in the bucket holding
// uploaded files.
package blobstore

import (
	"context"

	"github.com/propstrack/maintenance-server/internal/models"
)

// Store is an object bucket
type Store interface {
	// Bucket names the bucket, used to ignore references to other buckets.
	Bucket() string
	// List returns up to limit objects in key order.
	List(ctx context.Context, limit int) ([]models.ObjectDescriptor, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
