// Package reconcile compares the blob store with the documents referencing
// it, reporting orphaned objects and dangling references.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/blobstore"
	"github.com/propstrack/maintenance-server/internal/metrics"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/validation"
)

// Defaults for requests that omit a field.
const (
	DefaultMaxFiles    = 1000
	DefaultConcurrency = 10
	DefaultDryRun      = true
)

const (
	msgMaxFiles    = "maxFiles must be a number between 1 and 10000"
	msgConcurrency = "concurrency must be a number between 1 and 50"
	msgDryRun      = "dryRun must be a boolean"
)

// Options bounds one run.
type Options struct {
	MaxFiles    int  `json:"maxFiles" validate:"gte=1,lte=10000"`
	Concurrency int  `json:"concurrency" validate:"gte=1,lte=50"`
	DryRun      bool `json:"dryRun"`
}

// DecodeOptions parses a JSON request body, applying defaults for absent
// fields.
func DecodeOptions(body []byte) (Options, error) {
	opts := Options{MaxFiles: DefaultMaxFiles, Concurrency: DefaultConcurrency, DryRun: DefaultDryRun}

	raw := map[string]interface{}{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return opts, apperr.Validation("invalid request body: %v", err)
		}
	}

	intField := func(name, msg string, dst *int) error {
		v, present := raw[name]
		if !present {
			return nil
		}
		n, ok := v.(float64)
		if !ok || n != math.Trunc(n) {
			return apperr.Validation(msg)
		}
		*dst = int(n)
		return nil
	}
	if err := intField("maxFiles", msgMaxFiles, &opts.MaxFiles); err != nil {
		return opts, err
	}
	if err := intField("concurrency", msgConcurrency, &opts.Concurrency); err != nil {
		return opts, err
	}
	if v, present := raw["dryRun"]; present {
		dry, ok := v.(bool)
		if !ok {
			return opts, apperr.Validation(msgDryRun)
		}
		opts.DryRun = dry
	}
	return opts, nil
}

// Scanner streams the documents of a collection.
type Scanner interface {
	ScanCollection(ctx context.Context, collection string, fn func(*models.Document) error) error
}

// Reconciler is the storage reconciler
type Reconciler struct {
	docs      Scanner
	blobs     blobstore.Store
	sources   []Source
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewReconciler creates a reconciler over the given reference sources.
func NewReconciler(docs Scanner, blobs blobstore.Store, sources []Source, m *metrics.Metrics, logger zerolog.Logger) *Reconciler {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	return &Reconciler{
		docs:      docs,
		blobs:     blobs,
		sources:   sources,
		validator: validation.NewValidator(),
		metrics:   m,
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// Validate checks opts bounds.
func (r *Reconciler) Validate(opts Options) error {
	err := r.validator.Validate(opts)
	if err == nil {
		return nil
	}
	fields := validation.Fields(err)
	switch {
	case fields.Has("maxFiles"):
		return apperr.Validation(msgMaxFiles)
	case fields.Has("concurrency"):
		return apperr.Validation(msgConcurrency)
	}
	return apperr.Validation("%v", err)
}

// Run produces a point-in-time report. Concurrent writes may cause false
// positives, so unless opts.DryRun is set, every orphan is re-checked
// against a fresh scan immediately before it is deleted.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*models.ReconciliationReport, error) {
	if err := r.Validate(opts); err != nil {
		return nil, err
	}

	start := time.Now()
	report := &models.ReconciliationReport{
		Summary:           models.ReconciliationSummary{RunID: uuid.NewString(), DryRun: opts.DryRun},
		OrphanedFiles:     []string{},
		MissingReferences: []models.ObjectReference{},
	}
	logger := r.logger.With().
		Str("run_id", report.Summary.RunID).
		Bool("dry_run", opts.DryRun).
		Logger()
	logger.Info().Int("max_files", opts.MaxFiles).Int("concurrency", opts.Concurrency).Msg("Storage reconciliation started")

	objects, err := r.blobs.List(ctx, opts.MaxFiles)
	if err != nil {
		return nil, apperr.Transient("list objects", err)
	}
	listed := make(map[string]models.ObjectDescriptor, len(objects))
	for _, o := range objects {
		listed[o.Key] = o
	}
	report.Summary.TotalFiles = len(objects)

	refs, err := r.references(ctx)
	if err != nil {
		return nil, apperr.Transient("scan references", err)
	}
	report.Summary.ReferencedKeys = len(refs)

	var orphans []models.ObjectDescriptor
	for _, o := range objects {
		if _, ok := refs[o.Key]; !ok {
			orphans = append(orphans, o)
			report.OrphanedFiles = append(report.OrphanedFiles, o.Key)
			report.Summary.OrphanedBytes += o.Size
		}
	}
	report.Summary.OrphanedCount = len(orphans)

	missing, err := r.missingKeys(ctx, refs, listed, opts.Concurrency)
	if err != nil {
		return nil, apperr.Transient("check referenced objects", err)
	}
	for _, key := range missing {
		report.MissingReferences = append(report.MissingReferences, refs[key]...)
	}
	sortReferences(report.MissingReferences)
	report.Summary.MissingCount = len(report.MissingReferences)

	if !opts.DryRun && len(orphans) > 0 {
		if err := r.deleteOrphans(ctx, orphans, &report.Summary, logger); err != nil {
			return nil, apperr.Transient("rescan references", err)
		}
	}

	report.Summary.DurationMS = time.Since(start).Milliseconds()
	r.metrics.ReconcileOrphans.Set(float64(report.Summary.OrphanedCount))
	r.metrics.ReconcileMissing.Set(float64(report.Summary.MissingCount))
	r.metrics.ReconcileDeleted.Add(float64(report.Summary.DeletedCount))
	r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Int("total_files", report.Summary.TotalFiles).
		Int("orphaned", report.Summary.OrphanedCount).
		Int("missing", report.Summary.MissingCount).
		Int("deleted", report.Summary.DeletedCount).
		Int64("duration_ms", report.Summary.DurationMS).
		Msg("Storage reconciliation finished")
	return report, nil
}

// references maps every referenced key to the documents referencing it.
func (r *Reconciler) references(ctx context.Context) (map[string][]models.ObjectReference, error) {
	bucket := r.blobs.Bucket()
	refs := make(map[string][]models.ObjectReference)
	for _, src := range r.sources {
		err := r.docs.ScanCollection(ctx, src.Collection, func(doc *models.Document) error {
			var found []models.ObjectReference
			for _, field := range src.Fields {
				found = extract(doc, field, bucket, found)
			}
			for _, ref := range found {
				refs[ref.Key] = append(refs[ref.Key], ref)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", src.Collection, err)
		}
	}
	return refs, nil
}

// missingKeys checks, at most concurrency at a time, every referenced key
// that was not among the listed objects.
func (r *Reconciler) missingKeys(ctx context.Context, refs map[string][]models.ObjectReference, listed map[string]models.ObjectDescriptor, concurrency int) ([]string, error) {
	var (
		mu      sync.Mutex
		missing []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for key := range refs {
		if _, ok := listed[key]; ok {
			continue
		}
		key := key
		g.Go(func() error {
			ok, err := r.blobs.Exists(gctx, key)
			if err != nil {
				return err
			}
			if !ok {
				mu.Lock()
				missing = append(missing, key)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(missing)
	return missing, nil
}

func (r *Reconciler) deleteOrphans(ctx context.Context, orphans []models.ObjectDescriptor, summary *models.ReconciliationSummary, logger zerolog.Logger) error {
	fresh, err := r.references(ctx)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		if _, ok := fresh[o.Key]; ok {
			summary.SkippedCount++
			logger.Info().Str("key", o.Key).Msg("Orphan gained a reference, skipped")
			continue
		}
		if err := r.blobs.Delete(ctx, o.Key); err != nil {
			summary.FailedDeletes++
			logger.Warn().Err(err).Str("key", o.Key).Msg("Failed to delete orphan")
			continue
		}
		summary.DeletedCount++
	}
	return nil
}
