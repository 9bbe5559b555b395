package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/counters"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/quota"
)

// RejectedSubjectPrefix prefixes the notification published for every
// compensating delete; the resource kind completes the subject.
const RejectedSubjectPrefix = "quota.rejected."

// Publisher publishes a message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Reply answers a creation event carrying a reply subject.
type Reply struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RejectionNotice describes a compensated creation.
type RejectionNotice struct {
	Kind       models.ResourceKind `json:"kind"`
	ResourceID string              `json:"resourceId"`
	TenantID   string              `json:"tenantId,omitempty"`
	ActorID    string              `json:"actorId,omitempty"`
	Plan       models.Plan         `json:"plan,omitempty"`
	Limit      int                 `json:"limit"`
	Code       apperr.Kind         `json:"code"`
	Message    string              `json:"message"`
}

// EventHandler runs the creation and deletion hooks of countable resources.
type EventHandler struct {
	enforcer *quota.Enforcer
	counters *counters.Maintainer
	pub      Publisher
	logger   zerolog.Logger
}

// NewEventHandler creates a handler. pub may be nil.
func NewEventHandler(enforcer *quota.Enforcer, maintainer *counters.Maintainer, pub Publisher, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		enforcer: enforcer,
		counters: maintainer,
		pub:      pub,
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Created enforces the quota and, independently and concurrently, charges the
// shadow counter. Only enforcement shapes the reply; a counter failure is
// logged and returned so the event can be redelivered. A compensating delete
// emits no deletion event of its own, so its charge is released here.
func (h *EventHandler) Created(ctx context.Context, ev *models.ResourceEvent) (Reply, error) {
	kind, ok := models.KindForCollection(ev.Collection)
	if !ok {
		return Reply{OK: true}, nil
	}

	var (
		wg         sync.WaitGroup
		decision   *quota.Decision
		enforceErr error
		counterErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		decision, enforceErr = h.enforcer.Enforce(ctx, kind, ev.Document(), ev.ActorID)
	}()
	go func() {
		defer wg.Done()
		counterErr = h.counters.OnCreated(ctx, ev)
	}()
	wg.Wait()

	if counterErr != nil {
		h.logger.Error().Err(counterErr).Str("resource_id", ev.DocumentID).Msg("Failed to update usage counter")
	}

	if enforceErr == nil {
		return Reply{OK: true}, counterErr
	}

	errKind := apperr.KindOf(enforceErr)
	reply := Reply{Code: string(errKind), Message: apperr.Message(enforceErr)}
	if decision != nil && decision.State == quota.StateRejectedAndCompensated {
		h.notify(kind, ev, decision, enforceErr)
		if counterErr == nil {
			if err := h.counters.OnDeleted(ctx, ev); err != nil {
				h.logger.Error().Err(err).Str("resource_id", ev.DocumentID).Msg("Failed to release usage counter")
				counterErr = err
			}
		}
	}
	if errKind == apperr.KindTransient {
		return reply, enforceErr
	}
	return reply, counterErr
}

// Deleted decrements the shadow counter.
func (h *EventHandler) Deleted(ctx context.Context, ev *models.ResourceEvent) error {
	if _, ok := models.KindForCollection(ev.Collection); !ok {
		return nil
	}
	return h.counters.OnDeleted(ctx, ev)
}

func (h *EventHandler) notify(kind models.ResourceKind, ev *models.ResourceEvent, d *quota.Decision, cause error) {
	if h.pub == nil {
		return
	}
	data, err := json.Marshal(RejectionNotice{
		Kind:       kind,
		ResourceID: ev.DocumentID,
		TenantID:   d.TenantID,
		ActorID:    d.ActorID,
		Plan:       d.Plan,
		Limit:      d.Limit,
		Code:       apperr.KindOf(cause),
		Message:    apperr.Message(cause),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal rejection notice")
		return
	}
	if err := h.pub.Publish(RejectedSubjectPrefix+string(kind), data); err != nil {
		h.logger.Error().Err(err).Msgf("Failed to publish rejection of %s", ev.DocumentID)
	}
}
