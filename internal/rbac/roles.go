package rbac

// Role names. Keep these stable; they are issued inside JWTs.
const (
	RoleOwner      = "owner"
	RoleMember     = "member"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsKnownRole reports whether role may be issued in a token.
func IsKnownRole(role string) bool {
	switch role {
	case RoleOwner, RoleMember, RoleSuperAdmin:
		return true
	}
	return false
}
