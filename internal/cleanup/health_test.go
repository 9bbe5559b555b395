package cleanup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

func TestHealthCheckReportsCandidates(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	seed(t, s, "pending_signups", 4, expiresLongAgo)
	seed(t, s, models.ShowCollection, 2, func(int) models.Variables { return models.Variables{} })

	h := NewHealthChecker(s, nil, DefaultPolicies().All())
	report, err := h.Check(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 4, report.Collections["pending_signups"])
	assert.EqualValues(t, 2, report.Collections[models.ShowCollection])
	assert.EqualValues(t, 0, report.Collections["emails"])
	assert.EqualValues(t, 4, report.CleanupCandidates["expired-signups"])
	assert.EqualValues(t, 4, report.Summary.TotalCleanupOpportunity)
	require.Len(t, report.Summary.Recommendations, 1)
	assert.Contains(t, report.Summary.Recommendations[0], "pending_signups")
	assert.False(t, report.Timestamp.IsZero())
}

func TestHealthCheckHealthy(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(storage.NewMemoryStore(), []string{"emails"}, DefaultPolicies().All())
	report, err := h.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Summary.TotalCleanupOpportunity)
	assert.Equal(t, []string{"Database is healthy"}, report.Summary.Recommendations)
}

func TestHealthCheckPropagatesErrors(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	s.FailOn(storage.OpList, "emails", assert.AnError)
	_, err := NewHealthChecker(s, []string{"emails"}, nil).Check(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
