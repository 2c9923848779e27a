package actor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/haulpoints/backend/internal/models"
)

// ImpersonationContext is the marker recorded in the session when an
// admin or sponsor starts acting as a driver. Exactly one of the two
// original-account fields is set while IsImpersonating is true.
type ImpersonationContext struct {
	IsImpersonating          bool
	OriginalAdminAccountID   *uuid.UUID
	OriginalSponsorAccountID *uuid.UUID
}

// RoleLookup resolves an account id to its current role. Looked up at
// resolve time, never cached, so a revoked or changed role is reflected
// immediately.
type RoleLookup interface {
	RoleOf(ctx context.Context, accountID uuid.UUID) (models.Role, error)
}

// Resolver stamps balance mutations with an ActorAttribution. It is
// best-effort by contract: Resolve never fails, it degrades to
// marker-derived or unknown roles instead.
type Resolver struct {
	roles RoleLookup
}

func NewResolver(roles RoleLookup) *Resolver {
	return &Resolver{roles: roles}
}

// Resolve computes the attribution for one mutation. A nil principal is
// a system-initiated mutation (e.g. an automated reversal).
func (r *Resolver) Resolve(ctx context.Context, principal *models.Account, imp ImpersonationContext) models.ActorAttribution {
	if principal == nil {
		return models.ActorAttribution{
			ActorRoleCode: models.RoleSystem,
			ActorLabel:    models.RoleSystem.Label(),
		}
	}

	actorRole := r.lookupRole(ctx, principal.ID)

	impID, markerRole := impersonatorMarker(imp)
	if impID == nil {
		return models.ActorAttribution{
			ActorRoleCode: actorRole,
			ActorLabel:    actorRole.Label(),
		}
	}

	// The marker is authoritative even when the account lookup races or
	// fails: fall back to the role implied by which marker was set.
	impRole := r.lookupRole(ctx, *impID)
	if impRole == models.RoleUnknown {
		impRole = markerRole
	}

	return models.ActorAttribution{
		ActorRoleCode:         actorRole,
		ActorLabel:            fmt.Sprintf("%s → %s (Impersonation)", impRole.Label(), actorRole.Label()),
		ImpersonatorAccountID: impID,
		ImpersonatorRoleCode:  &impRole,
	}
}

func (r *Resolver) lookupRole(ctx context.Context, id uuid.UUID) models.Role {
	if r.roles == nil {
		return models.RoleUnknown
	}
	role, err := r.roles.RoleOf(ctx, id)
	if err != nil {
		return models.RoleUnknown
	}
	return role
}

// impersonatorMarker returns the impersonator account id and the role
// implied by the marker, or nil when impersonation is not active.
func impersonatorMarker(imp ImpersonationContext) (*uuid.UUID, models.Role) {
	if !imp.IsImpersonating {
		return nil, models.RoleUnknown
	}
	if imp.OriginalAdminAccountID != nil {
		return imp.OriginalAdminAccountID, models.RoleAdmin
	}
	if imp.OriginalSponsorAccountID != nil {
		return imp.OriginalSponsorAccountID, models.RoleSponsor
	}
	return nil, models.RoleUnknown
}
