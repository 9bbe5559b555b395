package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/auth"
	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/reconcile"
	"github.com/propstrack/maintenance-server/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ========== Quota handlers ==========

type checkLimitsRequest struct {
	TenantID     string `json:"tenantId" validate:"required"`
	ResourceKind string `json:"resourceKind" validate:"required"`
	ShowID       string `json:"showId"`
}

// HandleCheckLimits reports the live usage of one resource kind
func (s *RESTServer) HandleCheckLimits(w http.ResponseWriter, r *http.Request) {
	var req checkLimitsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		if fields := validation.Fields(err); len(fields) > 0 {
			err = apperr.Validation("%s is required", fields[0].Field)
		}
		s.respondError(w, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	if err := s.svc.Gate.AuthorizeTenant(r.Context(), caller, req.TenantID); err != nil {
		s.respondError(w, err)
		return
	}

	status, err := s.svc.Limits.CheckLimits(r.Context(), req.TenantID, models.ResourceKind(req.ResourceKind), req.ShowID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

// HandleGetUsage returns the shadow usage counters of a tenant
func (s *RESTServer) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	caller, _ := auth.CallerFrom(r.Context())
	if err := s.svc.Gate.AuthorizeTenant(r.Context(), caller, tenantID); err != nil {
		s.respondError(w, err)
		return
	}

	counters, err := s.svc.Usage.Usage(r.Context(), tenantID)
	if err != nil {
		s.respondError(w, apperr.Transient("read usage counters", err))
		return
	}

	usage := make(map[models.ResourceKind]int64, len(counters))
	for _, c := range counters {
		usage[c.Kind] = c.Count
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenantId": tenantID,
		"usage":    usage,
		"counters": counters,
	})
}

// ========== Admin handlers ==========

// HandleManualCleanup runs an ad-hoc cleanup
func (s *RESTServer) HandleManualCleanup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, apperr.Validation("invalid request body"))
		return
	}

	req, err := cleanup.DecodeManualRequest(body)
	if err != nil {
		s.respondError(w, err)
		return
	}

	result, err := s.svc.Manual.Run(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	log.Info().
		Str("caller", caller.ID).
		Str("collection", req.Collection).
		Int("days_old", req.DaysOld).
		Bool("dry_run", req.DryRun).
		Msg("Manual cleanup requested")

	s.respondJSON(w, http.StatusOK, result)
}

// HandleDatabaseHealth reports collection sizes and cleanup candidates
func (s *RESTServer) HandleDatabaseHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Health.Check(r.Context())
	if err != nil {
		s.respondError(w, apperr.Transient("database health check", err))
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}

// HandleReconcileStorage compares the blob store against stored references
func (s *RESTServer) HandleReconcileStorage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, apperr.Validation("invalid request body"))
		return
	}

	opts, err := reconcile.DecodeOptions(body)
	if err != nil {
		s.respondError(w, err)
		return
	}

	report, err := s.svc.Reconciler.Run(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"summary":           report.Summary,
		"orphanedFiles":     report.OrphanedFiles,
		"missingReferences": report.MissingReferences,
	})
}

// ========== Misc handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with a classified error
func (s *RESTServer) respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	s.respondJSON(w, status, map[string]string{
		"error": apperr.Message(err),
		"code":  string(apperr.KindOf(err)),
	})
}
