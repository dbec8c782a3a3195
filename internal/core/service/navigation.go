package service

import "github.com/globalvalve/valve-record/internal/core/domain"

// NavItem is an entry of the console's navigation menu.
type NavItem struct {
	Key   string        `json:"key"`
	Label string        `json:"label"`
	Path  string        `json:"path"`
	Roles []domain.Role `json:"-"`
}

var allRoles = []domain.Role{domain.RoleAdmin, domain.RoleInspector, domain.RoleClient}

var menu = []NavItem{
	{Key: "dashboard", Label: "Dashboard", Path: "/", Roles: allRoles},
	{Key: "valve-records", Label: "Valve Records", Path: "/valves", Roles: allRoles},
	{Key: "inspections", Label: "Inspections", Path: "/inspections", Roles: []domain.Role{domain.RoleAdmin, domain.RoleInspector}},
	{Key: "customers", Label: "Customers", Path: "/customers", Roles: []domain.Role{domain.RoleAdmin}},
	{Key: "users", Label: "Users", Path: "/users", Roles: []domain.Role{domain.RoleAdmin}},
	{Key: "audit-log", Label: "Audit Log", Path: "/audit", Roles: []domain.Role{domain.RoleAdmin}},
}

// VisibleNav returns the menu entries the state's role may see. Nothing is
// visible while the role is still loading or unresolved.
func VisibleNav(state domain.SessionState) []NavItem {
	if !state.Ready() {
		return []NavItem{}
	}
	visible := make([]NavItem, 0, len(menu))
	for _, item := range menu {
		for _, r := range item.Roles {
			if r == state.Role {
				visible = append(visible, item)
				break
			}
		}
	}
	return visible
}
