package auth

import (
	"context"
	"errors"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// Gate is the admin authorization gate
type Gate struct {
	profiles storage.DocumentGetter
}

// NewGate creates a gate reading caller profiles from profiles.
func NewGate(profiles storage.DocumentGetter) *Gate {
	return &Gate{profiles: profiles}
}

// RequireAdmin permits callerID only when its profile carries the
// administrative role. An empty callerID is Unauthenticated; a missing
// profile or a non-admin profile is PermissionDenied.
func (g *Gate) RequireAdmin(ctx context.Context, callerID string) error {
	if callerID == "" {
		return apperr.Unauthenticated("authentication required")
	}
	profile, err := g.profile(ctx, callerID)
	if err != nil {
		return err
	}
	if profile == nil || !profile.IsAdmin() {
		return apperr.PermissionDenied("administrator role required")
	}
	return nil
}

// Authorize applies RequireAdmin to c. Service callers are always admitted.
func (g *Gate) Authorize(ctx context.Context, c Caller) error {
	if c.Service {
		return nil
	}
	return g.RequireAdmin(ctx, c.ID)
}

// AuthorizeTenant admits the tenant itself, service callers and admins.
func (g *Gate) AuthorizeTenant(ctx context.Context, c Caller, tenantID string) error {
	if c.ID == "" {
		return apperr.Unauthenticated("authentication required")
	}
	if c.Service || c.ID == tenantID {
		return nil
	}
	if err := g.RequireAdmin(ctx, c.ID); err != nil {
		if apperr.Is(err, apperr.KindPermissionDenied) {
			return apperr.PermissionDenied("only the tenant or an administrator may read its usage")
		}
		return err
	}
	return nil
}

func (g *Gate) profile(ctx context.Context, id string) (*models.TenantProfile, error) {
	profile, err := storage.GetTenantProfile(ctx, g.profiles, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Transient("load caller profile", err)
	}
	return profile, nil
}
