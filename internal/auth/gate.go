package auth

import (
	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/models"
)

// Gate decisions are pure functions over already-resolved identities.
// Each denial carries its own message so the caller learns the first
// rule it tripped, not a generic refusal.

// RequireAdmin denies callers outside the owner and admin roles.
func RequireAdmin(caller *models.User) error {
	if caller == nil {
		return apierror.Unauthenticated("missing caller identity")
	}
	if !caller.IsAdmin() {
		return apierror.Forbidden("administrator role required")
	}
	return nil
}

// RequireCapability denies callers whose permission set does not grant
// the capability backing the requested action.
func RequireCapability(caller *models.User, capability string) error {
	if caller == nil {
		return apierror.Unauthenticated("missing caller identity")
	}
	if !caller.PermissionSet().Allows(capability) {
		return apierror.Forbidden("permission " + capability + " not granted")
	}
	return nil
}

// RequireSelfOrAdmin restricts non-admin callers to their own record.
func RequireSelfOrAdmin(caller *models.User, targetUserID string) error {
	if caller == nil {
		return apierror.Unauthenticated("missing caller identity")
	}
	if caller.IsAdmin() || caller.UserID == targetUserID {
		return nil
	}
	return apierror.Forbidden("cannot access another user's record")
}

// AuthorizeDelete applies the hierarchy rules for removing an account.
// The checks run in a fixed order so the most specific violation is
// reported: self-removal, then owner-removal, then the admin-on-admin
// restriction.
func AuthorizeDelete(caller, target *models.User) error {
	if err := RequireAdmin(caller); err != nil {
		return err
	}
	if target == nil {
		return apierror.NotFound("target user not found")
	}
	if caller.UserID == target.UserID {
		return apierror.Forbidden("cannot remove your own account")
	}
	if target.Role == models.RoleOwner {
		return apierror.Forbidden("the owner account cannot be removed")
	}
	if caller.Role == models.RoleAdmin && target.Role == models.RoleAdmin {
		return apierror.Forbidden("an admin cannot remove another admin")
	}
	return nil
}

// AuthorizeCreate applies the hierarchy rules for creating an account
// with the requested role. Only the owner may mint owners or admins.
func AuthorizeCreate(caller *models.User, newRole string) error {
	if err := RequireAdmin(caller); err != nil {
		return err
	}
	if caller.Role == models.RoleAdmin && newRole == models.RoleOwner {
		return apierror.Forbidden("an admin cannot create an owner")
	}
	if caller.Role == models.RoleAdmin && newRole == models.RoleAdmin {
		return apierror.Forbidden("an admin cannot create another admin")
	}
	return nil
}

// AuthorizeUpdate applies the hierarchy rules for modifying another
// account. Callers may always update their own record; beyond that,
// admin role is required and admins cannot touch owners or other
// admins.
func AuthorizeUpdate(caller, target *models.User) error {
	if caller == nil {
		return apierror.Unauthenticated("missing caller identity")
	}
	if target == nil {
		return apierror.NotFound("target user not found")
	}
	if caller.UserID == target.UserID {
		return nil
	}
	if !caller.IsAdmin() {
		return apierror.Forbidden("cannot access another user's record")
	}
	if caller.Role == models.RoleAdmin && target.Role == models.RoleOwner {
		return apierror.Forbidden("an admin cannot modify the owner")
	}
	if caller.Role == models.RoleAdmin && target.Role == models.RoleAdmin {
		return apierror.Forbidden("an admin cannot modify another admin")
	}
	return nil
}
