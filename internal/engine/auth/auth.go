package auth

import (
	"fmt"

	"teamline/internal/domain"
)

// ForbiddenError indicates the acting user lacks a required permission.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Elevated reports whether the role may act on entities it does not own.
func Elevated(role string) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleProductManager, domain.RoleProductOwner:
		return true
	}
	return false
}

// CanDeleteTask allows the reporter or an elevated role.
func CanDeleteTask(actor domain.User, t domain.Task) bool {
	return actor.ID == t.ReporterID || Elevated(actor.Role)
}

// CanManageTeam allows project owners and elevated roles.
func CanManageTeam(actor domain.User, p domain.Project) bool {
	return actor.ID == p.OwnerID || Elevated(actor.Role)
}

// CanEditPRD allows the author or an elevated role.
func CanEditPRD(actor domain.User, p domain.PRD) bool {
	return actor.ID == p.AuthorID || Elevated(actor.Role)
}
