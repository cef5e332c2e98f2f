package rbac

const (
	PermTestCreate     = "test:create"
	PermTestView       = "test:view"
	PermAttemptCreate  = "attempt:create"
	PermAttemptSave    = "attempt:save"
	PermAttemptSubmit  = "attempt:submit"
	PermAttemptViewOwn = "attempt:view-own"
	PermAttemptViewAll = "attempt:view-all"
	PermAttemptGrade   = "attempt:grade"
)

// Default policy. Graders never take attempts themselves.
var RolePermissions = map[string][]string{
	"student": {
		PermTestView,
		PermAttemptCreate,
		PermAttemptSave,
		PermAttemptSubmit,
		PermAttemptViewOwn,
	},
	"teacher": {
		PermTestCreate,
		PermTestView,
		"attempt:view-*",
		PermAttemptGrade,
	},
	"admin": {
		"*", // everything
	},
}
