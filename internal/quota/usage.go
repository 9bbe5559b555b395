package quota

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/limits"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// usageWarnPercent is the usage level from which CheckLimits warns.
const usageWarnPercent = 80

type idSet map[string]struct{}

func (s idSet) add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// usage recomputes the live set of resources of kind counted against
// tenantID. It never reads the shadow counters.
func (e *Enforcer) usage(ctx context.Context, kind models.ResourceKind, tenantID, parentID string) (idSet, error) {
	set := idSet{}

	switch {
	case kind == models.KindShow:
		ids, err := e.resolver.OwnedShowIDs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		set.add(ids...)

	case kind == models.KindArchivedShow:
		ids, err := e.archivedShows(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		set.add(ids...)

	case kind.CollaboratorCreatable():
		// Collaborators add these to any of the tenant's shows, so the count
		// spans every owned show plus legacy documents without a show.
		shows, err := e.resolver.OwnedShowIDs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		scoped, err := e.docs.ListIDs(ctx, storage.Query{
			Collection: kind.Collection(),
			Field:      models.ParentField,
			Values:     shows,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s by show: %w", kind.Collection(), err)
		}
		set.add(scoped...)

		legacy, err := e.resolver.OwnedIDs(ctx, kind.Collection(), tenantID, models.ParentField)
		if err != nil {
			return nil, err
		}
		set.add(legacy...)

	case kind == models.KindInvitation:
		if parentID == "" {
			return set, nil
		}
		ids, err := e.docs.ListIDs(ctx, storage.Query{
			Collection: kind.Collection(),
			Field:      models.ParentField,
			Values:     []string{parentID},
		})
		if err != nil {
			return nil, fmt.Errorf("list invitations of show %s: %w", parentID, err)
		}
		set.add(ids...)

	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}

	return set, nil
}

func (e *Enforcer) archivedShows(ctx context.Context, tenantID string) ([]string, error) {
	shows, err := e.resolver.OwnedShowIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var archived []string
	for _, id := range shows {
		doc, err := e.docs.GetDocument(ctx, models.ShowCollection, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load show %s: %w", id, err)
		}
		if doc.Data.String("status") == "archived" {
			archived = append(archived, id)
		}
	}
	return archived, nil
}

// LimitStatus is the answer to a quota usage query.
type LimitStatus struct {
	TenantID     string              `json:"tenantId"`
	Kind         models.ResourceKind `json:"resourceKind"`
	Plan         models.Plan         `json:"plan"`
	Exempt       bool                `json:"exempt"`
	WithinLimit  bool                `json:"withinLimit"`
	CurrentCount int                 `json:"currentCount"`
	Limit        int                 `json:"limit"`
	UsagePercent int                 `json:"usagePercent"`
	Message      string              `json:"message,omitempty"`
}

// CheckLimits reports the live usage of kind for tenantID. For invitations,
// scopeID selects the show; without it the busiest owned show is reported.
func (e *Enforcer) CheckLimits(ctx context.Context, tenantID string, kind models.ResourceKind, scopeID string) (*LimitStatus, error) {
	if tenantID == "" {
		return nil, apperr.Validation("tenantId is required")
	}
	if !kind.Valid() {
		return nil, apperr.Validation("unknown resource kind %q", kind)
	}

	d := &Decision{TenantID: tenantID}
	profile, err := e.loadProfile(ctx, d)
	if err != nil {
		return nil, err
	}

	count, err := e.currentCount(ctx, kind, tenantID, scopeID)
	if err != nil {
		return nil, apperr.Transient("count usage", err)
	}

	status := &LimitStatus{
		TenantID:     tenantID,
		Kind:         kind,
		Plan:         d.Plan,
		CurrentCount: count,
		Limit:        e.policy.Limit(d.Plan, kind),
	}
	status.UsagePercent = usagePercent(status.CurrentCount, status.Limit)

	if exemption := limits.ExemptionFor(profile); exemption != limits.NotExempt {
		status.Exempt = true
		status.WithinLimit = true
		status.Message = fmt.Sprintf("Exempt from plan limits (%s)", exemption)
		return status, nil
	}

	status.WithinLimit = status.CurrentCount < status.Limit
	switch {
	case !status.WithinLimit:
		status.Message = fmt.Sprintf("You have reached the %s plan limit of %d %s. Upgrade your plan to create more.",
			status.Plan, status.Limit, kind.Plural())
	case status.UsagePercent >= usageWarnPercent:
		status.Message = fmt.Sprintf("You are using %d of %d %s on the %s plan.",
			status.CurrentCount, status.Limit, kind.Plural(), status.Plan)
	}

	return status, nil
}

func (e *Enforcer) currentCount(ctx context.Context, kind models.ResourceKind, tenantID, scopeID string) (int, error) {
	if kind != models.KindInvitation || scopeID != "" {
		set, err := e.usage(ctx, kind, tenantID, scopeID)
		if err != nil {
			return 0, err
		}
		return len(set), nil
	}

	shows, err := e.resolver.OwnedShowIDs(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	busiest := 0
	for _, show := range shows {
		set, err := e.usage(ctx, kind, tenantID, show)
		if err != nil {
			return 0, err
		}
		if len(set) > busiest {
			busiest = len(set)
		}
	}
	return busiest, nil
}

func usagePercent(count, limit int) int {
	if limit <= 0 {
		return 100
	}
	return int(math.Round(float64(count) / float64(limit) * 100))
}
