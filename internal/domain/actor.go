package domain

import "context"

// Role is the caller's authorization role.
type Role string

const (
	RoleSuperAdmin           Role = "super_admin"
	RoleVerificationAssessor Role = "verification_assessor"
	RoleSupervisor           Role = "supervisor"
)

// Actor identifies the caller of a review or configuration operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanReview reports whether the role may read and resolve detections.
func (a Actor) CanReview() bool {
	switch a.Role {
	case RoleSuperAdmin, RoleVerificationAssessor, RoleSupervisor:
		return true
	}
	return false
}

// TeamScope resolves which enumerators a supervisor may act on.
type TeamScope interface {
	EnumeratorIDsForSupervisor(ctx context.Context, supervisorID string) ([]string, error)
}

// AccountStatusHook is notified when a resolution changes an enumerator's
// account status.
type AccountStatusHook interface {
	OnEnumeratorResolution(ctx context.Context, enumeratorID string, resolution Resolution, reviewerID string) error
}
