package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin      = "admin"
	RoleService    = "service"    // upstream machine callers (booking)
	RoleOperator   = "operator"   // ops tooling and support
	RoleReconciler = "reconciler" // hidden role for settlement jobs
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleReconciler }
