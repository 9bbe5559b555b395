package storage

import (
	"context"
	"errors"

	"github.com/propstrack/maintenance-server/internal/models"
)

// GetTenantProfile loads the profile of a tenant. It returns ErrNotFound when
// the profile document does not exist.
func GetTenantProfile(ctx context.Context, docs DocumentGetter, tenantID string) (*models.TenantProfile, error) {
	if tenantID == "" {
		return nil, ErrNotFound
	}
	doc, err := docs.GetDocument(ctx, models.ProfileCollection, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return models.ProfileFromDocument(doc), nil
}
