// Package quota enforces per-tenant resource quotas after creation and
// compensates violations by deleting the new resource.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/limits"
	"github.com/propstrack/maintenance-server/internal/metrics"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/ownership"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// Store is the document store surface the enforcer needs.
type Store interface {
	ownership.Lister
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Enforcer is the quota enforcer
type Enforcer struct {
	docs     Store
	resolver *ownership.Resolver
	policy   *limits.Policy
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEnforcer creates an enforcer using policy for every decision.
func NewEnforcer(docs Store, policy *limits.Policy, m *metrics.Metrics, logger zerolog.Logger) *Enforcer {
	return &Enforcer{
		docs:     docs,
		resolver: ownership.NewResolver(docs),
		policy:   policy,
		metrics:  m,
		logger:   logger.With().Str("component", "quota").Logger(),
	}
}

// Enforce validates a just-created resource. It returns a QuotaExceeded error
// after deleting the resource when the tenant was already at its limit, and a
// Validation error after deleting it when no owner can be resolved. Backend
// failures leave the decision in StateValidating and are returned as-is so
// the event can be redelivered.
func (e *Enforcer) Enforce(ctx context.Context, kind models.ResourceKind, doc *models.Document, actorID string) (*Decision, error) {
	if actorID == "" {
		if own, ok := ownership.OwnerOf(doc); ok {
			actorID = own.TenantID
		}
	}
	d := newDecision(kind, doc, actorID)
	if err := d.transition(StateValidating); err != nil {
		return d, err
	}

	logger := e.logger.With().
		Str("kind", string(kind)).
		Str("resource_id", doc.ID).
		Str("actor_id", actorID).
		Logger()

	res, err := e.resolver.Resolve(ctx, kind, doc)
	if ownership.IsInvalid(err) {
		if cerr := e.compensate(ctx, d, kind); cerr != nil {
			return d, cerr
		}
		e.metrics.QuotaDecisions.WithLabelValues(string(kind), "invalid").Inc()
		logger.Warn().Err(err).Msg("Removed resource without resolvable owner")
		return d, apperr.Validation("%s %s has no resolvable owner and was removed", kind, doc.ID)
	}
	if err != nil {
		return d, apperr.Transient("resolve owner", err)
	}
	d.TenantID = res.TenantID
	logger = logger.With().Str("tenant_id", res.TenantID).Logger()

	profile, err := e.loadProfile(ctx, d)
	if err != nil {
		return d, err
	}
	if d.ProfileMissing {
		// Known fallback: a missing profile gets free plan limits rather than
		// failing the write open or closed.
		logger.Warn().Msg("Tenant profile missing, applying free plan limits")
	}

	d.Exemption = limits.ExemptionFor(profile)
	if d.Exemption != limits.NotExempt {
		if err := d.transition(StateCommitted); err != nil {
			return d, err
		}
		e.metrics.QuotaDecisions.WithLabelValues(string(kind), "exempt").Inc()
		logger.Debug().Str("exemption", string(d.Exemption)).Msg("Tenant exempt from quota")
		return d, nil
	}

	d.Limit = e.policy.Limit(d.Plan, kind)
	usage, err := e.usage(ctx, kind, res.TenantID, res.ParentID)
	if err != nil {
		return d, apperr.Transient("count usage", err)
	}
	delete(usage, doc.ID)
	d.CountBefore = len(usage)

	if d.CountBefore >= d.Limit {
		if err := e.compensate(ctx, d, kind); err != nil {
			return d, err
		}
		e.metrics.QuotaDecisions.WithLabelValues(string(kind), "rejected").Inc()
		logger.Info().
			Int("count", d.CountBefore).
			Int("limit", d.Limit).
			Bool("collaborator", d.ByCollaborator()).
			Msg("Quota exceeded, resource removed")
		return d, apperr.QuotaExceeded(rejectionMessage(d))
	}

	if err := d.transition(StateCommitted); err != nil {
		return d, err
	}
	e.metrics.QuotaDecisions.WithLabelValues(string(kind), "committed").Inc()
	logger.Info().
		Int("count", d.CountBefore+1).
		Int("limit", d.Limit).
		Msg("Resource within quota")
	return d, nil
}

func (e *Enforcer) loadProfile(ctx context.Context, d *Decision) (*models.TenantProfile, error) {
	profile, err := storage.GetTenantProfile(ctx, e.docs, d.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		d.ProfileMissing = true
		d.Plan = models.PlanFree
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Transient("load tenant profile", err)
	}
	d.Plan = profile.Plan
	return profile, nil
}

func (e *Enforcer) compensate(ctx context.Context, d *Decision, kind models.ResourceKind) error {
	if err := e.docs.DeleteDocument(ctx, kind.Collection(), d.ResourceID); err != nil {
		return apperr.Transient("compensating delete", err)
	}
	return d.transition(StateRejectedAndCompensated)
}

func rejectionMessage(d *Decision) string {
	if d.ByCollaborator() {
		return fmt.Sprintf("The show owner has reached the %s plan limit of %d %s. Ask the show owner to upgrade their plan to add more.",
			d.Plan, d.Limit, d.Kind.Plural())
	}
	return fmt.Sprintf("You have reached the %s plan limit of %d %s. Upgrade your plan to create more.",
		d.Plan, d.Limit, d.Kind.Plural())
}
