package models

// Role names a permission level for the status API.
type Role = string

const (
	// RoleAdmin may trigger runs and read everything.
	RoleAdmin Role = "admin"

	// RoleOperator may trigger apply and verify runs.
	RoleOperator Role = "operator"

	// RoleViewer may only read run history and target state.
	RoleViewer Role = "viewer"
)
