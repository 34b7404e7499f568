// Package authz decides what an actor may do with a case and which cases it may see.
package authz

import (
	"sort"

	"casedesk.org/internal/auth"
)

// Permission is a static capability atom.
type Permission string

const (
	ViewAllCases         Permission = "view_all_cases"
	ViewOwnCases         Permission = "view_own_cases"
	ViewAssignedCases    Permission = "view_assigned_cases"
	CreateCase           Permission = "create_case"
	EditOwnCases         Permission = "edit_own_cases"
	EditAllCases         Permission = "edit_all_cases"
	DeleteOwnCases       Permission = "delete_own_cases"
	DeleteAllCases       Permission = "delete_all_cases"
	AssignCases          Permission = "assign_cases"
	UpdateStatusOwn      Permission = "update_status_own"
	UpdateStatusAssigned Permission = "update_status_assigned"
	UpdateStatusAll      Permission = "update_status_all"
	ManageUsers          Permission = "manage_users"
	ViewAuditLogs        Permission = "view_audit_logs"
)

// AllPermissions lists every atom in declaration order.
var AllPermissions = []Permission{
	ViewAllCases, ViewOwnCases, ViewAssignedCases, CreateCase,
	EditOwnCases, EditAllCases, DeleteOwnCases, DeleteAllCases,
	AssignCases, UpdateStatusOwn, UpdateStatusAssigned, UpdateStatusAll,
	ManageUsers, ViewAuditLogs,
}

type permissionSet map[Permission]struct{}

func setOf(perms ...Permission) permissionSet {
	s := make(permissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// roleTable is built once and never written after init.
var roleTable = map[auth.Role]permissionSet{
	auth.RoleAdmin: setOf(
		ViewAllCases, CreateCase, EditAllCases, DeleteAllCases,
		AssignCases, UpdateStatusAll, ManageUsers, ViewAuditLogs,
	),
	auth.RoleUser: setOf(
		ViewOwnCases, ViewAssignedCases, CreateCase, EditOwnCases,
		DeleteOwnCases, UpdateStatusOwn, UpdateStatusAssigned,
	),
	auth.RoleManager: setOf(
		ViewAllCases, CreateCase, EditAllCases, AssignCases, UpdateStatusAll,
	),
	auth.RoleViewer: setOf(
		ViewOwnCases, ViewAssignedCases,
	),
}

// PermissionsFor returns the sorted grants of role. Unknown roles get none.
func PermissionsFor(role auth.Role) []Permission {
	set := roleTable[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grants reports whether role holds p in the static table.
func Grants(role auth.Role, p Permission) bool {
	_, ok := roleTable[role][p]
	return ok
}

// ownerScoped and assigneeScoped mark the resource-scoped atoms.
var (
	ownerScoped    = setOf(EditOwnCases, DeleteOwnCases, UpdateStatusOwn, ViewOwnCases)
	assigneeScoped = setOf(UpdateStatusAssigned, ViewAssignedCases)
)
