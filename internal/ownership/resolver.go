// Package ownership determines which tenant a resource counts against.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

var (
	// ErrUnresolved means no owner field of the resource (or its parent) is set.
	ErrUnresolved = errors.New("owner unresolved")
	// ErrParentNotFound means the parent show of a scoped resource does not exist.
	ErrParentNotFound = errors.New("parent not found")
)

// Resolution is the outcome of a successful owner lookup.
type Resolution struct {
	TenantID string
	// Field is the owner field that supplied TenantID.
	Field string
	// ParentID is the show the owner was read from, empty for unscoped resources.
	ParentID string
}

// Lister is the subset of the document store used to enumerate owned shows.
type Lister interface {
	storage.DocumentGetter
	ListIDs(ctx context.Context, q storage.Query) ([]string, error)
}

// Resolver resolves resource owners
type Resolver struct {
	docs Lister
}

// NewResolver creates a resolver reading parents from docs.
func NewResolver(docs Lister) *Resolver {
	return &Resolver{docs: docs}
}

// OwnerOf applies the owner field precedence to one document.
func OwnerOf(doc *models.Document) (Resolution, bool) {
	for _, field := range models.OwnerFields {
		if id := doc.Data.String(field); id != "" {
			return Resolution{TenantID: id, Field: field}, true
		}
	}
	return Resolution{}, false
}

// Resolve returns the tenant a resource of kind counts against. Scoped
// resources with a parent reference resolve through the parent show; a
// scoped resource without one (legacy boards) falls back to its own fields.
func (r *Resolver) Resolve(ctx context.Context, kind models.ResourceKind, doc *models.Document) (Resolution, error) {
	parentID := ""
	if kind.ParentScoped() {
		parentID = doc.Data.String(models.ParentField)
	}

	if parentID == "" {
		res, ok := OwnerOf(doc)
		if !ok {
			return Resolution{}, fmt.Errorf("%s %s: %w", kind, doc.ID, ErrUnresolved)
		}
		return res, nil
	}

	parent, err := r.docs.GetDocument(ctx, models.ShowCollection, parentID)
	if errors.Is(err, storage.ErrNotFound) {
		return Resolution{}, fmt.Errorf("%s %s: show %s: %w", kind, doc.ID, parentID, ErrParentNotFound)
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load show %s: %w", parentID, err)
	}

	res, ok := OwnerOf(parent)
	if !ok {
		return Resolution{}, fmt.Errorf("%s %s: show %s: %w", kind, doc.ID, parentID, ErrUnresolved)
	}
	res.ParentID = parentID
	return res, nil
}

// IsInvalid reports whether err means the resource can never be attributed
// to a tenant, as opposed to a backend failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrUnresolved) || errors.Is(err, ErrParentNotFound)
}

// OwnedShowIDs lists every show owned by tenantID. The owner field of a
// show is not consistent across historical data, so all three owner fields
// are queried and the results merged.
func (r *Resolver) OwnedShowIDs(ctx context.Context, tenantID string) ([]string, error) {
	return r.unionByOwner(ctx, models.ShowCollection, tenantID, "")
}

// OwnedIDs lists documents of collection whose own owner fields name
// tenantID. When unset is given, documents with that field set are skipped.
func (r *Resolver) OwnedIDs(ctx context.Context, collection, tenantID, unset string) ([]string, error) {
	return r.unionByOwner(ctx, collection, tenantID, unset)
}

func (r *Resolver) unionByOwner(ctx context.Context, collection, tenantID, unset string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, field := range models.OwnerFields {
		ids, err := r.docs.ListIDs(ctx, storage.Query{
			Collection: collection,
			Field:      field,
			Values:     []string{tenantID},
			Unset:      unset,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s by %s: %w", collection, field, err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
