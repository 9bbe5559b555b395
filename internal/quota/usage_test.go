package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/models"
)

func TestCheckLimits(t *testing.T) {
	t.Parallel()

	e, s := newTestEnforcer(t)
	profile(t, s, "tenant", models.Variables{"plan": "starter"})
	for _, id := range []string{"a", "b", "c", "d"} {
		put(t, s, models.ShowCollection, id, models.Variables{"ownerId": "tenant"})
	}

	status, err := e.CheckLimits(context.Background(), "tenant", models.KindShow, "")
	require.NoError(t, err)
	assert.False(t, status.Exempt)
	assert.True(t, status.WithinLimit)
	assert.Equal(t, 4, status.CurrentCount)
	assert.Equal(t, 5, status.Limit)
	assert.Equal(t, 80, status.UsagePercent)
	assert.Contains(t, status.Message, "4 of 5 shows")

	put(t, s, models.ShowCollection, "e", models.Variables{"ownerId": "tenant", "status": "archived"})
	status, err = e.CheckLimits(context.Background(), "tenant", models.KindShow, "")
	require.NoError(t, err)
	assert.False(t, status.WithinLimit)
	assert.Equal(t, 100, status.UsagePercent)

	status, err = e.CheckLimits(context.Background(), "tenant", models.KindArchivedShow, "")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentCount)
}

func TestCheckLimitsExempt(t *testing.T) {
	t.Parallel()

	e, s := newTestEnforcer(t)
	profile(t, s, "tenant", models.Variables{"plan": "free", "subscriptionStatus": "trialing"})
	put(t, s, models.ShowCollection, "a", models.Variables{"ownerId": "tenant"})
	put(t, s, models.ShowCollection, "b", models.Variables{"ownerId": "tenant"})
	put(t, s, models.ShowCollection, "c", models.Variables{"ownerId": "tenant"})

	status, err := e.CheckLimits(context.Background(), "tenant", models.KindShow, "")
	require.NoError(t, err)
	assert.True(t, status.Exempt)
	assert.True(t, status.WithinLimit)
	assert.Equal(t, 3, status.CurrentCount)
	assert.Equal(t, 150, status.UsagePercent)
}

func TestCheckLimitsInvitationsUseBusiestShow(t *testing.T) {
	t.Parallel()

	e, s := newTestEnforcer(t)
	put(t, s, models.ShowCollection, "a", models.Variables{"ownerId": "tenant"})
	put(t, s, models.ShowCollection, "b", models.Variables{"ownerId": "tenant"})
	put(t, s, models.InvitationCollection, "i1", models.Variables{"showId": "b"})
	put(t, s, models.InvitationCollection, "i2", models.Variables{"showId": "b"})
	put(t, s, models.InvitationCollection, "i3", models.Variables{"showId": "a"})

	status, err := e.CheckLimits(context.Background(), "tenant", models.KindInvitation, "")
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentCount)

	status, err = e.CheckLimits(context.Background(), "tenant", models.KindInvitation, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentCount)
}

func TestCheckLimitsValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnforcer(t)
	_, err := e.CheckLimits(context.Background(), "", models.KindShow, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = e.CheckLimits(context.Background(), "t", models.ResourceKind("spaceship"), "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
