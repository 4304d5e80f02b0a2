package core

// Roles
const (
	RoleSuperAdmin    = "SUPER_ADMIN"
	RoleOrgAdmin      = "ORG_ADMIN"
	RoleOperator      = "OPERATOR"
	RoleCustomerAdmin = "CUSTOMER_ADMIN"
	RoleCustomerUser  = "CUSTOMER_USER"
)

var (
	OrgRoles      = []string{RoleOrgAdmin, RoleOperator}
	CustomerRoles = []string{RoleCustomerAdmin, RoleCustomerUser}
	AllRoles      = []string{RoleSuperAdmin, RoleOrgAdmin, RoleOperator, RoleCustomerAdmin, RoleCustomerUser}

	rolePriorities = map[string]int{
		RoleSuperAdmin:    30,
		RoleOrgAdmin:      21,
		RoleOperator:      11,
		RoleCustomerAdmin: 20,
		RoleCustomerUser:  10,
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

// Actor is the authenticated caller on whose behalf a service operation runs.
// Tenancy scoping of every query is derived from it.
type Actor struct {
	UserID         string
	Role           string
	OrganizationID string
	CustomerID     string
}

// Tenant roles only count with their tenant set: an OPERATOR without organization is no org user,
// so every scoping switch falls through to "nothing visible" for it.

func (a Actor) IsSuperAdmin() bool { return a.Role == RoleSuperAdmin }
func (a Actor) IsOrgUser() bool {
	return ContainsString(OrgRoles, a.Role) && a.OrganizationID != ""
}
func (a Actor) IsOrgAdmin() bool { return a.Role == RoleOrgAdmin && a.OrganizationID != "" }
func (a Actor) IsCustomerUser() bool {
	return ContainsString(CustomerRoles, a.Role) && a.CustomerID != ""
}
func (a Actor) IsCustomerAdmin() bool { return a.Role == RoleCustomerAdmin && a.CustomerID != "" }

// IsAdmin reports whether the Actor administers its tenant (or everything).
func (a Actor) IsAdmin() bool {
	return a.IsSuperAdmin() || a.IsOrgAdmin() || a.IsCustomerAdmin()
}

// EffectiveOrganizationID returns the organization a query is scoped to.
// SUPER_ADMIN may target any organization through `requested`; other org users are pinned to their own.
func (a Actor) EffectiveOrganizationID(requested string) string {
	if a.IsSuperAdmin() {
		return requested
	}
	if a.IsOrgUser() {
		return a.OrganizationID
	}
	return ""
}

// SystemActor is used by background jobs and the admin CLI.
var SystemActor = Actor{UserID: "", Role: RoleSuperAdmin}
