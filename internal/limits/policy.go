// Package limits holds the per-plan quota table and the exemption rules.
package limits

import (
	"fmt"

	"github.com/propstrack/maintenance-server/internal/models"
)

// Quotas are the named quota values of one plan.
type Quotas struct {
	Shows                int `json:"shows" yaml:"shows"`
	Boards               int `json:"boards" yaml:"boards"`
	PackingBoxes         int `json:"packingBoxes" yaml:"packing_boxes"`
	CollaboratorsPerShow int `json:"collaboratorsPerShow" yaml:"collaborators_per_show"`
	Props                int `json:"props" yaml:"props"`
	ArchivedShows        int `json:"archivedShows" yaml:"archived_shows"`
}

// Limit returns the quota for kind.
func (q Quotas) Limit(kind models.ResourceKind) int {
	switch kind {
	case models.KindShow:
		return q.Shows
	case models.KindBoard:
		return q.Boards
	case models.KindPackingBox:
		return q.PackingBoxes
	case models.KindInvitation:
		return q.CollaboratorsPerShow
	case models.KindProp:
		return q.Props
	case models.KindArchivedShow:
		return q.ArchivedShows
	}
	return 0
}

// Policy maps plans to quotas. It is immutable once built.
type Policy struct {
	plans map[models.Plan]Quotas
}

// DefaultQuotas is the built-in quota table.
func DefaultQuotas() map[models.Plan]Quotas {
	return map[models.Plan]Quotas{
		models.PlanFree: {
			Shows: 1, Boards: 2, PackingBoxes: 20, CollaboratorsPerShow: 3, Props: 10, ArchivedShows: 0,
		},
		models.PlanStarter: {
			Shows: 3, Boards: 5, PackingBoxes: 200, CollaboratorsPerShow: 5, Props: 50, ArchivedShows: 2,
		},
		models.PlanStandard: {
			Shows: 10, Boards: 20, PackingBoxes: 1000, CollaboratorsPerShow: 10, Props: 500, ArchivedShows: 5,
		},
		models.PlanPro: {
			Shows: 100, Boards: 100, PackingBoxes: 10000, CollaboratorsPerShow: 100, Props: 5000, ArchivedShows: 50,
		},
	}
}

// NewPolicy builds a policy from a plan table. The free plan must be present
// since it is the fallback for unknown plans and missing profiles.
func NewPolicy(plans map[models.Plan]Quotas) (*Policy, error) {
	if _, ok := plans[models.PlanFree]; !ok {
		return nil, fmt.Errorf("limit policy: missing %q plan", models.PlanFree)
	}

	copied := make(map[models.Plan]Quotas, len(plans))
	for plan, q := range plans {
		for _, kind := range append(models.Countable, models.KindArchivedShow) {
			if q.Limit(kind) < 0 {
				return nil, fmt.Errorf("limit policy: negative %s quota for plan %q", kind, plan)
			}
		}
		copied[plan] = q
	}

	return &Policy{plans: copied}, nil
}

// DefaultPolicy returns the policy built from DefaultQuotas.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultQuotas())
	if err != nil {
		panic(err)
	}
	return p
}

// For returns the quotas of plan, falling back to the free plan.
func (p *Policy) For(plan models.Plan) Quotas {
	if q, ok := p.plans[plan]; ok {
		return q
	}
	return p.plans[models.PlanFree]
}

// Limit returns the quota of kind under plan.
func (p *Policy) Limit(plan models.Plan, kind models.ResourceKind) int {
	return p.For(plan).Limit(kind)
}

// Exemption explains why a tenant skips quota checks.
type Exemption string

const (
	NotExempt          Exemption = ""
	ExemptAdmin        Exemption = "admin"
	ExemptSubscription Exemption = "subscription"
)

// ExemptionFor returns the exemption of a profile. A nil profile is never exempt.
func ExemptionFor(profile *models.TenantProfile) Exemption {
	if profile == nil {
		return NotExempt
	}
	if profile.IsAdmin() {
		return ExemptAdmin
	}
	if profile.HasPaidAccess() {
		return ExemptSubscription
	}
	return NotExempt
}
