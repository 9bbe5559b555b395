package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/models"
)

func TestPolicyFallsBackToFree(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, p.For(models.PlanFree), p.For(models.Plan("enterprise")))
	assert.Equal(t, 1, p.Limit(models.PlanFree, models.KindShow))
	assert.Equal(t, 3, p.Limit(models.PlanFree, models.KindInvitation))
}

func TestNewPolicyRequiresFreePlan(t *testing.T) {
	t.Parallel()

	_, err := NewPolicy(map[models.Plan]Quotas{models.PlanPro: {Shows: 10}})
	require.Error(t, err)
}

func TestNewPolicyRejectsNegativeQuota(t *testing.T) {
	t.Parallel()

	_, err := NewPolicy(map[models.Plan]Quotas{models.PlanFree: {Props: -1}})
	require.Error(t, err)
}

func TestPolicyIsolatedFromInputMap(t *testing.T) {
	t.Parallel()

	plans := map[models.Plan]Quotas{models.PlanFree: {Shows: 1}}
	p, err := NewPolicy(plans)
	require.NoError(t, err)

	plans[models.PlanFree] = Quotas{Shows: 99}
	assert.Equal(t, 1, p.Limit(models.PlanFree, models.KindShow))
}

func TestExemptionFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile *models.TenantProfile
		want    Exemption
	}{
		{"nil profile", nil, NotExempt},
		{"free plan", &models.TenantProfile{Plan: models.PlanFree}, NotExempt},
		{"admin group", &models.TenantProfile{Groups: []string{models.AdminGroup}}, ExemptAdmin},
		{"legacy role", &models.TenantProfile{Role: "god"}, ExemptAdmin},
		{"active", &models.TenantProfile{SubscriptionStatus: models.SubscriptionActive}, ExemptSubscription},
		{"trialing", &models.TenantProfile{SubscriptionStatus: models.SubscriptionTrialing}, ExemptSubscription},
		{"past due", &models.TenantProfile{Plan: models.PlanPro, SubscriptionStatus: models.SubscriptionPastDue}, NotExempt},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExemptionFor(tt.profile))
		})
	}
}
