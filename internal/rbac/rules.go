package rbac

const (
	RoleStudent = "estudiante"
	RoleAdmin   = "administrador"
)

// Default policy. The admin wildcard also covers every student permission so
// administrators can preview lessons through the student surfaces.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"quiz:take",
		"quiz:submit",
		"lessons:view-assigned",
		"history:view-own",
		"ranking:view",
	},
	RoleAdmin: {
		"*",
	},
}
