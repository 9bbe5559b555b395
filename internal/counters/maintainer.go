// Package counters keeps the per-tenant shadow usage counters in step with
// resource creation and deletion events.
package counters

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/propstrack/maintenance-server/internal/metrics"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/ownership"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// JobSweep names the scheduled pass releasing charges of vanished documents.
const JobSweep = "counters-sweep"

// ErrUncountable is returned for events on collections without a countable kind.
var ErrUncountable = errors.New("collection is not counted")

// Maintainer charges each counted document to its owner's counter on creation
// and releases that charge on deletion. It never blocks or rejects a write;
// backend failures are returned so the consumer can negatively acknowledge
// the event and have it redelivered.
type Maintainer struct {
	docs     storage.DocumentGetter
	resolver *ownership.Resolver
	counters storage.CounterStore
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewMaintainer creates a maintainer resolving owners through docs and
// persisting counts in store.
func NewMaintainer(docs ownership.Lister, store storage.CounterStore, m *metrics.Metrics, logger zerolog.Logger) *Maintainer {
	return &Maintainer{
		docs:     docs,
		resolver: ownership.NewResolver(docs),
		counters: store,
		metrics:  m,
		logger:   logger.With().Str("component", "counters").Logger(),
	}
}

// OnCreated charges the document to its owner's counter for the event's kind.
func (m *Maintainer) OnCreated(ctx context.Context, ev *models.ResourceEvent) error {
	kind, ok := models.KindForCollection(ev.Collection)
	if !ok {
		return fmt.Errorf("%s: %w", ev.Collection, ErrUncountable)
	}

	logger := m.logger.With().
		Str("kind", string(kind)).
		Str("resource_id", ev.DocumentID).
		Logger()

	res, err := m.resolver.Resolve(ctx, kind, ev.Document())
	if ownership.IsInvalid(err) {
		m.metrics.CounterUpdates.WithLabelValues(string(kind), "unresolved").Inc()
		logger.Warn().Err(err).Msg("Skipping counter update, owner unresolved")
		return nil
	}
	if err != nil {
		m.metrics.CounterUpdates.WithLabelValues(string(kind), "error").Inc()
		return fmt.Errorf("resolve owner: %w", err)
	}

	charged, err := m.counters.ChargeCounter(ctx, ev.Ref(), res.TenantID, kind)
	if err != nil {
		m.metrics.CounterUpdates.WithLabelValues(string(kind), "error").Inc()
		return err
	}
	if !charged {
		m.metrics.CounterUpdates.WithLabelValues(string(kind), "duplicate").Inc()
		logger.Debug().Str("event_id", ev.EventID).Msg("Document already charged")
		return nil
	}

	m.metrics.CounterUpdates.WithLabelValues(string(kind), "applied").Inc()
	logger.Debug().Str("tenant_id", res.TenantID).Msg("Counter charged")
	return nil
}

// OnDeleted releases the document's charge. The decrement goes to whichever
// tenant was charged, so no owner lookup is needed once the parent is gone.
func (m *Maintainer) OnDeleted(ctx context.Context, ev *models.ResourceEvent) error {
	kind, ok := models.KindForCollection(ev.Collection)
	if !ok {
		return fmt.Errorf("%s: %w", ev.Collection, ErrUncountable)
	}
	return m.release(ctx, kind, ev.Ref(), "applied")
}

func (m *Maintainer) release(ctx context.Context, kind models.ResourceKind, ref models.DocRef, result string) error {
	released, err := m.counters.ReleaseCounter(ctx, ref)
	if err != nil {
		m.metrics.CounterUpdates.WithLabelValues(string(kind), "error").Inc()
		return err
	}
	if !released {
		m.metrics.CounterUpdates.WithLabelValues(string(kind), "duplicate").Inc()
		m.logger.Debug().Str("resource_id", ref.ID).Str("kind", string(kind)).Msg("No charge to release")
		return nil
	}
	m.metrics.CounterUpdates.WithLabelValues(string(kind), result).Inc()
	return nil
}

// Sweep releases every charge whose document no longer exists, covering
// deletions whose events never arrived. It returns the number released.
func (m *Maintainer) Sweep(ctx context.Context) (int, error) {
	var stale []models.CounterCharge
	err := m.counters.ListCharges(ctx, func(ch models.CounterCharge) error {
		_, err := m.docs.GetDocument(ctx, ch.Ref.Collection, ch.Ref.ID)
		if errors.Is(err, storage.ErrNotFound) {
			stale = append(stale, ch)
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list charges: %w", err)
	}

	released := 0
	for _, ch := range stale {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		if err := m.release(ctx, ch.Kind, ch.Ref, "swept"); err != nil {
			return released, fmt.Errorf("release %s: %w", ch.Ref, err)
		}
		released++
		m.logger.Info().
			Str("resource_id", ch.Ref.ID).
			Str("tenant_id", ch.TenantID).
			Str("kind", string(ch.Kind)).
			Msg("Released charge of missing document")
	}
	return released, nil
}

// Usage returns the shadow counters of a tenant.
func (m *Maintainer) Usage(ctx context.Context, tenantID string) ([]models.UsageCounter, error) {
	return m.counters.GetCounters(ctx, tenantID)
}
