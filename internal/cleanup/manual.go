package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/validation"
)

// Defaults applied to manual requests that omit a field.
const (
	DefaultManualDaysOld = 30
	DefaultManualDryRun  = true
)

const (
	msgCollectionRequired = "Collection name is required and must be a string"
	msgDaysOldRange       = "daysOld must be a number between 1 and 365"
	msgDryRunType         = "dryRun must be a boolean"
)

// DefaultManualPolicies lists the collections manual cleanup may target.
// DaysOld is taken from each request.
func DefaultManualPolicies() []models.CleanupPolicy {
	return []models.CleanupPolicy{
		{Name: "manual-emails", Collection: "emails", DateField: "createdAt"},
		{Name: "manual-pending-signups", Collection: "pending_signups", DateField: "createdAt"},
		{Name: "manual-pending-password-resets", Collection: "pending_password_resets", DateField: "createdAt"},
		{Name: "manual-notifications", Collection: "notifications", DateField: "createdAt"},
	}
}

// ManualRequest is an administrator's ad-hoc cleanup request.
type ManualRequest struct {
	Collection string `json:"collection" validate:"required"`
	DaysOld    int    `json:"daysOld" validate:"gte=1,lte=365"`
	DryRun     bool   `json:"dryRun"`
}

// ManualResult reports an ad-hoc cleanup. Exactly one of DeletedCount and
// WouldDeleteCount is set.
type ManualResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Collection       string `json:"collection"`
	DaysOld          int    `json:"daysOld"`
	DeletedCount     *int   `json:"deletedCount,omitempty"`
	WouldDeleteCount *int   `json:"wouldDeleteCount,omitempty"`
	DryRun           bool   `json:"dryRun"`
}

// DecodeManualRequest parses a JSON request body. Absent fields take their
// defaults; present fields of the wrong type are validation errors.
func DecodeManualRequest(body []byte) (ManualRequest, error) {
	req := ManualRequest{DaysOld: DefaultManualDaysOld, DryRun: DefaultManualDryRun}

	raw := map[string]interface{}{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return req, apperr.Validation("invalid request body: %v", err)
		}
	}

	name, ok := raw["collection"].(string)
	if !ok || name == "" {
		return req, apperr.Validation(msgCollectionRequired)
	}
	req.Collection = name

	if v, present := raw["daysOld"]; present {
		days, ok := v.(float64)
		if !ok || days != math.Trunc(days) || days < 1 || days > 365 {
			return req, apperr.Validation(msgDaysOldRange)
		}
		req.DaysOld = int(days)
	}

	if v, present := raw["dryRun"]; present {
		dry, ok := v.(bool)
		if !ok {
			return req, apperr.Validation(msgDryRunType)
		}
		req.DryRun = dry
	}

	return req, nil
}

// Manual runs administrator-requested cleanups over an allow-list.
type Manual struct {
	collector *Collector
	allowed   map[string]models.CleanupPolicy
	validator *validation.Validator
}

// NewManual creates a manual cleaner limited to the collections of policies.
func NewManual(collector *Collector, policies []models.CleanupPolicy) *Manual {
	allowed := make(map[string]models.CleanupPolicy, len(policies))
	for _, p := range policies {
		allowed[p.Collection] = p
	}
	return &Manual{collector: collector, allowed: allowed, validator: validation.NewValidator()}
}

// Allowed returns the allow-listed collection names, sorted.
func (m *Manual) Allowed() []string {
	names := make([]string, 0, len(m.allowed))
	for name := range m.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run validates req before any I/O, then deletes or, for a dry run, counts
// the matching documents.
func (m *Manual) Run(ctx context.Context, req ManualRequest) (*ManualResult, error) {
	if err := m.validator.Validate(req); err != nil {
		fields := validation.Fields(err)
		switch {
		case fields.Has("collection"):
			return nil, apperr.Validation(msgCollectionRequired)
		case fields.Has("daysOld"):
			return nil, apperr.Validation(msgDaysOldRange)
		}
		return nil, apperr.Validation("%v", err)
	}

	policy, ok := m.allowed[req.Collection]
	if !ok {
		return nil, apperr.Validation("Collection '%s' is not allowed for cleanup. Allowed: %s",
			req.Collection, strings.Join(m.Allowed(), ", "))
	}
	policy = policy.WithDays(req.DaysOld)

	res := &ManualResult{Success: true, Collection: req.Collection, DaysOld: req.DaysOld, DryRun: req.DryRun}
	if req.DryRun {
		n, err := m.collector.Count(ctx, policy)
		if err != nil {
			return nil, apperr.Transient("count cleanup candidates", err)
		}
		res.WouldDeleteCount = &n
		res.Message = fmt.Sprintf("Dry run: would delete %d documents from %s older than %d days", n, req.Collection, req.DaysOld)
		return res, nil
	}

	n, err := m.collector.Collect(ctx, policy)
	if err != nil {
		return nil, apperr.Transient(fmt.Sprintf("cleanup %s after %d deletions", req.Collection, n), err)
	}
	res.DeletedCount = &n
	res.Message = fmt.Sprintf("Deleted %d documents from %s older than %d days", n, req.Collection, req.DaysOld)
	return res, nil
}
