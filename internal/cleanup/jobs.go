package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/propstrack/maintenance-server/internal/models"
)

// Job names, used by the scheduler, the CLI and metrics.
const (
	JobProcessed    = "cleanup-processed"
	JobExpiredCodes = "cleanup-expired-codes"
	JobFailed       = "cleanup-failed"
)

// Policies configures the automatic cleanup passes.
type Policies struct {
	Processed    models.CleanupPolicy   `yaml:"processed"`
	ExpiredCodes []models.CleanupPolicy `yaml:"expired_codes"`
	Failed       models.CleanupPolicy   `yaml:"failed"`
}

// DefaultPolicies returns the built-in retention rules.
func DefaultPolicies() Policies {
	return Policies{
		Processed: models.CleanupPolicy{
			Name:        "processed-emails",
			Collection:  "emails",
			DateField:   "delivery.endTime",
			DaysOld:     7,
			StatusField: "delivery.state",
			StatusValue: "SUCCESS",
		},
		ExpiredCodes: []models.CleanupPolicy{
			{Name: "expired-signups", Collection: "pending_signups", DateField: "expiresAt"},
			{Name: "expired-password-resets", Collection: "pending_password_resets", DateField: "expiresAt"},
		},
		Failed: models.CleanupPolicy{
			Name:        "failed-emails",
			Collection:  "emails",
			DateField:   "createdAt",
			DaysOld:     30,
			StatusField: "delivery.state",
			StatusValue: "ERROR",
		},
	}
}

// All lists every policy, in pass order.
func (p Policies) All() []models.CleanupPolicy {
	out := []models.CleanupPolicy{p.Processed}
	out = append(out, p.ExpiredCodes...)
	return append(out, p.Failed)
}

// PassResult is the outcome of one collection within a job.
type PassResult struct {
	Policy     string `json:"policy"`
	Collection string `json:"collection"`
	Deleted    int    `json:"deleted"`
	Error      string `json:"error,omitempty"`
}

// Jobs runs the parameterless automatic cleanup passes.
type Jobs struct {
	collector *Collector
	policies  Policies
}

// NewJobs creates the automatic passes over collector.
func NewJobs(collector *Collector, policies Policies) *Jobs {
	return &Jobs{collector: collector, policies: policies}
}

// Run executes the job called name.
func (j *Jobs) Run(ctx context.Context, name string) ([]PassResult, error) {
	switch name {
	case JobProcessed:
		return j.single(ctx, j.policies.Processed)
	case JobExpiredCodes:
		return j.CleanupExpiredCodes(ctx)
	case JobFailed:
		return j.single(ctx, j.policies.Failed)
	}
	return nil, fmt.Errorf("unknown cleanup job %q", name)
}

// Names lists the automatic jobs.
func (j *Jobs) Names() []string {
	return []string{JobProcessed, JobExpiredCodes, JobFailed}
}

// Func adapts the job called name to a function reporting the documents
// it deleted, the shape the scheduler runs.
func (j *Jobs) Func(name string) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		results, err := j.Run(ctx, name)
		deleted := 0
		for _, r := range results {
			deleted += r.Deleted
		}
		return deleted, err
	}
}

// CleanupProcessed removes fully processed records past their retention.
func (j *Jobs) CleanupProcessed(ctx context.Context) ([]PassResult, error) {
	return j.single(ctx, j.policies.Processed)
}

// CleanupFailed removes permanently failed records past their retention.
func (j *Jobs) CleanupFailed(ctx context.Context) ([]PassResult, error) {
	return j.single(ctx, j.policies.Failed)
}

// CleanupExpiredCodes cleans each short-lived code collection on its own.
// A failure in one collection does not stop the others; all failures are
// returned joined once every collection has been attempted.
func (j *Jobs) CleanupExpiredCodes(ctx context.Context) ([]PassResult, error) {
	results := make([]PassResult, 0, len(j.policies.ExpiredCodes))
	var errs []error
	for _, p := range j.policies.ExpiredCodes {
		res, err := j.pass(ctx, p)
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (j *Jobs) single(ctx context.Context, p models.CleanupPolicy) ([]PassResult, error) {
	res, err := j.pass(ctx, p)
	return []PassResult{res}, err
}

func (j *Jobs) pass(ctx context.Context, p models.CleanupPolicy) (PassResult, error) {
	res := PassResult{Policy: p.Name, Collection: p.Collection}
	n, err := j.collector.Collect(ctx, p)
	res.Deleted = n
	if err != nil {
		j.collector.logger.Error().Err(err).Str("policy", p.Name).Int("deleted", n).Msg("Cleanup pass failed")
		res.Error = err.Error()
		return res, fmt.Errorf("%s: %w", p.Name, err)
	}
	return res, nil
}
