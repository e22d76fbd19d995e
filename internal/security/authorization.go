package security

import (
	"fmt"
	"log/slog"
)

// Role represents a member's role inside an organization
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Permission represents an action permission
type Permission string

const (
	PermManageOrganization Permission = "manage_organization"
	PermDeleteOrganization Permission = "delete_organization"
	PermInviteMembers      Permission = "invite_members"
	PermRemoveMembers      Permission = "remove_members"
	PermViewMembers        Permission = "view_members"
	PermViewAuditLog       Permission = "view_audit_log"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleOwner: {
		PermManageOrganization,
		PermDeleteOrganization,
		PermInviteMembers,
		PermRemoveMembers,
		PermViewMembers,
		PermViewAuditLog,
	},
	RoleAdmin: {
		PermManageOrganization,
		PermInviteMembers,
		PermRemoveMembers,
		PermViewMembers,
		PermViewAuditLog,
	},
	RoleMember: {
		PermViewMembers,
	},
}

// AuthorizationService handles authorization checks
type AuthorizationService struct {
	logger *slog.Logger
}

// NewAuthorizationService creates a new authorization service
func NewAuthorizationService(logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{
		logger: logger,
	}
}

// HasPermission checks if a role has a specific permission
func (as *AuthorizationService) HasPermission(role Role, permission Permission) bool {
	permissions, exists := RolePermissions[role]
	if !exists {
		return false
	}
	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// ValidatePermission validates that a role has a specific permission
func (as *AuthorizationService) ValidatePermission(role Role, permission Permission) error {
	if !as.HasPermission(role, permission) {
		as.logger.Warn("permission denied",
			slog.String("role", string(role)),
			slog.String("permission", string(permission)),
		)
		return fmt.Errorf("permission denied: %s role cannot %s", role, permission)
	}
	return nil
}

// GetRolePermissions returns all permissions for a role
func (as *AuthorizationService) GetRolePermissions(role Role) []Permission {
	return RolePermissions[role]
}

// ValidateOrganizationAccess checks if a session is scoped to an organization
func (as *AuthorizationService) ValidateOrganizationAccess(activeOrgID, requestedOrgID string) error {
	if activeOrgID != requestedOrgID {
		as.logger.Warn("organization access denied",
			slog.String("active_organization", activeOrgID),
			slog.String("requested_organization", requestedOrgID),
		)
		return fmt.Errorf("access denied: invalid organization")
	}
	return nil
}
