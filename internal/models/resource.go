package models

import "time"

// ResourceKind identifies a tenant-scoped, quota-counted resource type
type ResourceKind string

const (
	KindShow         ResourceKind = "show"
	KindBoard        ResourceKind = "board"
	KindPackingBox   ResourceKind = "packing_box"
	KindProp         ResourceKind = "prop"
	KindInvitation   ResourceKind = "invitation"
	KindArchivedShow ResourceKind = "archived_show"
)

// Collections holding the countable resources.
const (
	ShowCollection       = "shows"
	BoardCollection      = "todo_boards"
	PackingBoxCollection = "packingBoxes"
	PropCollection       = "props"
	InvitationCollection = "invitations"
)

// ParentField is the document field pointing at the owning show.
const ParentField = "showId"

// OwnerFields lists the owner fields in resolution order; the first
// non-empty one wins.
var OwnerFields = []string{"createdBy", "ownerId", "userId"}

// Countable lists the kinds that have creation/deletion hooks.
var Countable = []ResourceKind{KindShow, KindBoard, KindPackingBox, KindProp, KindInvitation}

var kindCollections = map[ResourceKind]string{
	KindShow:         ShowCollection,
	KindBoard:        BoardCollection,
	KindPackingBox:   PackingBoxCollection,
	KindProp:         PropCollection,
	KindInvitation:   InvitationCollection,
	KindArchivedShow: ShowCollection,
}

// Collection returns the collection a kind is stored in.
func (k ResourceKind) Collection() string {
	return kindCollections[k]
}

// ParentScoped reports whether resources of this kind live inside a show and
// therefore count against the show owner rather than their creator.
func (k ResourceKind) ParentScoped() bool {
	switch k {
	case KindBoard, KindPackingBox, KindProp, KindInvitation:
		return true
	}
	return false
}

// CollaboratorCreatable reports whether users other than the tenant can create
// resources of this kind, which forces tenant-wide counting.
func (k ResourceKind) CollaboratorCreatable() bool {
	switch k {
	case KindBoard, KindPackingBox, KindProp:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k ResourceKind) Valid() bool {
	_, ok := kindCollections[k]
	return ok
}

// Plural returns a human readable plural used in quota messages.
func (k ResourceKind) Plural() string {
	switch k {
	case KindShow:
		return "shows"
	case KindBoard:
		return "task boards"
	case KindPackingBox:
		return "packing boxes"
	case KindProp:
		return "props"
	case KindInvitation:
		return "collaborators per show"
	case KindArchivedShow:
		return "archived shows"
	}
	return string(k)
}

// KindForCollection maps a collection name back to its countable kind.
func KindForCollection(collection string) (ResourceKind, bool) {
	for _, k := range Countable {
		if k.Collection() == collection {
			return k, true
		}
	}
	return "", false
}

// ResourceEvent is emitted by the document store after a create or delete.
type ResourceEvent struct {
	EventID    string    `json:"eventId"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId"`
	ActorID    string    `json:"actorId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Data       Variables `json:"data"`
}

// Ref addresses the event's document.
func (e *ResourceEvent) Ref() DocRef {
	return DocRef{Collection: e.Collection, ID: e.DocumentID}
}

// Document returns the event's document snapshot.
func (e *ResourceEvent) Document() *Document {
	data := e.Data
	if data == nil {
		data = Variables{}
	}
	return &Document{
		Collection: e.Collection,
		ID:         e.DocumentID,
		CreatedAt:  e.Timestamp,
		Data:       data,
	}
}

// UsageCounter is the shadow count of one resource kind for one tenant.
type UsageCounter struct {
	TenantID  string       `json:"tenantId" db:"tenant_id"`
	Kind      ResourceKind `json:"kind" db:"kind"`
	Count     int64        `json:"count" db:"count"`
	UpdatedAt time.Time    `json:"updatedAt" db:"updated_at"`
}

// CounterCharge records which counter a counted document was added to, so its
// deletion subtracts from the same tenant even after the parent is gone.
type CounterCharge struct {
	Ref       DocRef       `json:"ref"`
	TenantID  string       `json:"tenantId" db:"tenant_id"`
	Kind      ResourceKind `json:"kind" db:"kind"`
	ChargedAt time.Time    `json:"chargedAt" db:"charged_at"`
}
