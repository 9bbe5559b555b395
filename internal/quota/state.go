package quota

import (
	"fmt"

	"github.com/propstrack/maintenance-server/internal/limits"
	"github.com/propstrack/maintenance-server/internal/models"
)

// State is the lifecycle position of a created resource under enforcement.
//
// Created happens in the document store before enforcement runs, so the
// transition to Committed or RejectedAndCompensated is never atomic with it:
// a reader may observe a resource that is deleted moments later. The store
// offers no cross-document lock to close that window.
type State string

const (
	StateCreated                State = "created"
	StateValidating             State = "validating"
	StateCommitted              State = "committed"
	StateRejectedAndCompensated State = "rejected_and_compensated"
)

var transitions = map[State][]State{
	StateCreated:    {StateValidating},
	StateValidating: {StateCommitted, StateRejectedAndCompensated},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejectedAndCompensated
}

// Decision records one enforcement run.
type Decision struct {
	Kind       models.ResourceKind
	ResourceID string
	TenantID   string
	ActorID    string
	State      State
	Plan       models.Plan
	Exemption  limits.Exemption
	// ProfileMissing is set when the tenant had no profile and free plan
	// limits were applied.
	ProfileMissing bool
	CountBefore    int
	Limit          int
}

func newDecision(kind models.ResourceKind, doc *models.Document, actorID string) *Decision {
	return &Decision{
		Kind:       kind,
		ResourceID: doc.ID,
		ActorID:    actorID,
		State:      StateCreated,
	}
}

func (d *Decision) transition(to State) error {
	for _, allowed := range transitions[d.State] {
		if allowed == to {
			d.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid quota state transition %s -> %s", d.State, to)
}

// ByCollaborator reports whether someone other than the tenant created the resource.
func (d *Decision) ByCollaborator() bool {
	return d.ActorID != "" && d.ActorID != d.TenantID
}
