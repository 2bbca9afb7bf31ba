package shared

// Admin actions guarding the policy API. All are evaluated against ResourcePermissions.
const (
	PermPermissionsCreate   = "permissions:create"
	PermPermissionsRead     = "permissions:read"
	PermPermissionsUpdate   = "permissions:update"
	PermPermissionsDelete   = "permissions:delete"
	PermPermissionsList     = "permissions:list"
	PermPermissionsAssign   = "permissions:assign"
	PermPermissionsUnassign = "permissions:unassign"
	PermPermissionsEvaluate = "permissions:evaluate"

	ResourcePermissions = "permissions:*"
)

// CoreScopes lists all permissions related to the policy API.
func CoreScopes() []string {
	return []string{
		PermPermissionsCreate,
		PermPermissionsRead,
		PermPermissionsUpdate,
		PermPermissionsDelete,
		PermPermissionsList,
		PermPermissionsAssign,
		PermPermissionsUnassign,
		PermPermissionsEvaluate,
	}
}
