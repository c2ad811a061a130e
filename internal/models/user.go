package models

import "time"

// UserRole represents the roles recognised by the attendance workflow.
type UserRole string

const (
	RoleTeacher             UserRole = "TEACHER"
	RoleAcademicCoordinator UserRole = "ACADEMIC_COORDINATOR"
	RoleLeadership          UserRole = "LEADERSHIP"
)

// Valid returns true when the role is known.
func (r UserRole) Valid() bool {
	switch r {
	case RoleTeacher, RoleAcademicCoordinator, RoleLeadership:
		return true
	default:
		return false
	}
}

// Actor is the already-authenticated caller of a workflow operation.
type Actor struct {
	ID   string
	Role UserRole
	// ContextInfo is copied verbatim onto audit entries (request id, client ip).
	ContextInfo string
}

// User is the directory entry for an actor, used for display names only.
type User struct {
	ID             string     `db:"id" json:"id"`
	ExternalUserID string     `db:"external_user_id" json:"externalUserId"`
	FullName       string     `db:"full_name" json:"fullName"`
	Email          string     `db:"email" json:"email"`
	Role           UserRole   `db:"role" json:"role"`
	Active         bool       `db:"active" json:"active"`
	LastActiveAt   *time.Time `db:"last_active_at" json:"lastActiveAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}
