package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// DefaultMonitoredCollections are counted by every health check.
var DefaultMonitoredCollections = []string{
	"emails",
	"pending_signups",
	"pending_password_resets",
	"notifications",
	models.ProfileCollection,
	models.ShowCollection,
	models.PropCollection,
}

// HealthReport is a snapshot of collection sizes and cleanup backlog.
type HealthReport struct {
	Timestamp         time.Time        `json:"timestamp"`
	Collections       map[string]int64 `json:"collections"`
	CleanupCandidates map[string]int64 `json:"cleanupCandidates"`
	Summary           HealthSummary    `json:"summary"`
}

// HealthSummary totals the cleanup backlog.
type HealthSummary struct {
	TotalCleanupOpportunity int64    `json:"totalCleanupOpportunity"`
	Recommendations         []string `json:"recommendations"`
}

// HealthChecker reports database health.
type HealthChecker struct {
	store       storage.DocumentStore
	collections []string
	policies    []models.CleanupPolicy
	now         func() time.Time
}

// NewHealthChecker creates a checker counting collections and the
// candidates of every policy.
func NewHealthChecker(store storage.DocumentStore, collections []string, policies []models.CleanupPolicy) *HealthChecker {
	if len(collections) == 0 {
		collections = DefaultMonitoredCollections
	}
	return &HealthChecker{store: store, collections: collections, policies: policies, now: time.Now}
}

// Check counts every monitored collection and cleanup candidate.
func (h *HealthChecker) Check(ctx context.Context) (*HealthReport, error) {
	now := h.now().UTC()
	report := &HealthReport{
		Timestamp:         now,
		Collections:       make(map[string]int64, len(h.collections)),
		CleanupCandidates: make(map[string]int64, len(h.policies)),
		Summary:           HealthSummary{Recommendations: []string{}},
	}

	for _, c := range h.collections {
		n, err := h.store.CountDocuments(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c, err)
		}
		report.Collections[c] = n
	}

	for _, p := range h.policies {
		n, err := h.store.CountExpired(ctx, storage.RetentionQueryFor(p, now, 0))
		if err != nil {
			return nil, fmt.Errorf("count candidates of %s: %w", p.Name, err)
		}
		report.CleanupCandidates[p.Name] = n
		report.Summary.TotalCleanupOpportunity += n
		if n > 0 {
			report.Summary.Recommendations = append(report.Summary.Recommendations,
				fmt.Sprintf("%d documents in %s match %s and can be cleaned up", n, p.Collection, p.Name))
		}
	}

	if len(report.Summary.Recommendations) == 0 {
		report.Summary.Recommendations = append(report.Summary.Recommendations, "Database is healthy")
	}
	return report, nil
}
