package storage

import (
	"context"
	"errors"
	"time"

	"github.com/propstrack/maintenance-server/internal/models"
)

// MaxBatchOps is the hard ceiling of writes inside one atomic batch.
const MaxBatchOps = 500

// Common errors
var (
	ErrNotFound       = errors.New("not found")
	ErrBatchFull      = errors.New("atomic batch is full")
	ErrBatchCommitted = errors.New("batch already committed")
)

// Query selects documents whose Field equals one of Values. When Unset is
// non-empty, the document must also have no value for that field.
type Query struct {
	Collection string
	Field      string
	Values     []string
	Unset      string
}

// RetentionQuery selects expired documents of one collection.
type RetentionQuery struct {
	Collection  string
	DateField   string
	Before      time.Time
	StatusField string
	StatusValue string
	Limit       int
}

// RetentionQueryFor builds the query matching policy at now.
func RetentionQueryFor(p models.CleanupPolicy, now time.Time, limit int) RetentionQuery {
	return RetentionQuery{
		Collection:  p.Collection,
		DateField:   p.DateField,
		Before:      p.Cutoff(now),
		StatusField: p.StatusField,
		StatusValue: p.StatusValue,
		Limit:       limit,
	}
}

// DocumentGetter loads a single document.
type DocumentGetter interface {
	GetDocument(ctx context.Context, collection, id string) (*models.Document, error)
}

// DocumentStore is the document-store surface used by the maintenance jobs.
type DocumentStore interface {
	DocumentGetter

	PutDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, collection, id string) error
	ListIDs(ctx context.Context, q Query) ([]string, error)
	CountDocuments(ctx context.Context, collection string) (int64, error)
	ScanCollection(ctx context.Context, collection string, fn func(*models.Document) error) error

	// Retention queries
	FindExpired(ctx context.Context, q RetentionQuery) ([]models.DocRef, error)
	CountExpired(ctx context.Context, q RetentionQuery) (int64, error)

	// NewBatch starts an atomic write batch of at most MaxBatchOps operations.
	NewBatch() Batch
}

// Batch is an all-or-nothing group of deletes.
type Batch interface {
	Delete(ref models.DocRef) error
	Len() int
	Commit(ctx context.Context) error
}

// CounterStore persists the shadow usage counters together with the charge
// each counted document made.
type CounterStore interface {
	// ChargeCounter records that ref counts against (tenantID, kind) and adds
	// one to that counter. A ref already charged is left alone and reports false.
	ChargeCounter(ctx context.Context, ref models.DocRef, tenantID string, kind models.ResourceKind) (bool, error)
	// ReleaseCounter drops the charge of ref and subtracts one from the
	// counter it was made against, clamping at zero. An uncharged ref reports false.
	ReleaseCounter(ctx context.Context, ref models.DocRef) (bool, error)
	// ListCharges calls fn for every recorded charge, in ref order.
	ListCharges(ctx context.Context, fn func(models.CounterCharge) error) error
	GetCounters(ctx context.Context, tenantID string) ([]models.UsageCounter, error)
}

// Store defines the storage interface
type Store interface {
	DocumentStore
	CounterStore

	Close() error
}
