// Package cleanup garbage-collects expired documents in bounded atomic
// batches.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/propstrack/maintenance-server/internal/metrics"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

const (
	DefaultMaxAtomicOps = 450
	DefaultPageSize     = 500
)

// Options bounds one collection pass.
type Options struct {
	// MaxAtomicOps caps the deletes per commit. It must stay below
	// storage.MaxBatchOps.
	MaxAtomicOps int
	// PageSize caps the documents matched per pass.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.MaxAtomicOps == 0 {
		o.MaxAtomicOps = DefaultMaxAtomicOps
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

// Collector is the bulk garbage collector
type Collector struct {
	store   storage.DocumentStore
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCollector creates a collector deleting from store.
func NewCollector(store storage.DocumentStore, opts Options, m *metrics.Metrics, logger zerolog.Logger) (*Collector, error) {
	opts = opts.withDefaults()
	if opts.MaxAtomicOps <= 0 || opts.MaxAtomicOps >= storage.MaxBatchOps {
		return nil, fmt.Errorf("max atomic ops %d must be between 1 and %d", opts.MaxAtomicOps, storage.MaxBatchOps-1)
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("page size %d must be positive", opts.PageSize)
	}
	return &Collector{
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "cleanup").Logger(),
		now:     time.Now,
	}, nil
}

// Collect deletes up to one page of documents matching policy and returns
// how many were deleted. A query or commit failure aborts the pass; batches
// committed before it stay deleted.
func (c *Collector) Collect(ctx context.Context, policy models.CleanupPolicy) (int, error) {
	logger := c.logger.With().
		Str("policy", policy.Name).
		Str("collection", policy.Collection).
		Logger()
	start := c.now()

	refs, err := c.store.FindExpired(ctx, storage.RetentionQueryFor(policy, start, c.opts.PageSize))
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", policy.Collection, err)
	}
	if len(refs) == 0 {
		logger.Info().Msg("nothing to clean")
		return 0, nil
	}

	deleted := 0
	batch := c.store.NewBatch()
	for _, ref := range refs {
		if err := batch.Delete(ref); err != nil {
			return deleted, fmt.Errorf("stage %s: %w", ref, err)
		}
		if batch.Len() < c.opts.MaxAtomicOps {
			continue
		}

		n, err := c.commit(ctx, batch, policy.Collection)
		if err != nil {
			return deleted, err
		}
		deleted += n
		if deleted < len(refs) {
			logger.Info().Int("deleted", deleted).Msgf("deleted %d so far", deleted)
		}
		batch = c.store.NewBatch()
	}

	if batch.Len() > 0 {
		n, err := c.commit(ctx, batch, policy.Collection)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	logger.Info().
		Int("deleted", deleted).
		Dur("duration", c.now().Sub(start)).
		Msg("Cleanup pass complete")
	return deleted, nil
}

// Count returns how many documents a pass of policy would delete right now.
func (c *Collector) Count(ctx context.Context, policy models.CleanupPolicy) (int, error) {
	refs, err := c.store.FindExpired(ctx, storage.RetentionQueryFor(policy, c.now(), c.opts.PageSize))
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", policy.Collection, err)
	}
	return len(refs), nil
}

func (c *Collector) commit(ctx context.Context, batch storage.Batch, collection string) (int, error) {
	n := batch.Len()
	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %d deletes in %s: %w", n, collection, err)
	}
	c.metrics.CleanupCommits.WithLabelValues(collection).Inc()
	c.metrics.CleanupDeleted.WithLabelValues(collection).Add(float64(n))
	return n, nil
}
