package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

// TransitionKind names one attendance workflow command.
type TransitionKind string

const (
	TransitionCreate          TransitionKind = "CREATE"
	TransitionSubmit          TransitionKind = "SUBMIT"
	TransitionApprove         TransitionKind = "APPROVE"
	TransitionPublish         TransitionKind = "PUBLISH"
	TransitionLock            TransitionKind = "LOCK"
	TransitionRequestReopen   TransitionKind = "REQUEST_REOPEN"
	TransitionApproveReopen   TransitionKind = "APPROVE_REOPEN"
	TransitionRejectReopen    TransitionKind = "REJECT_REOPEN"
	TransitionApplyCorrection TransitionKind = "APPLY_CORRECTION"
)

// Transition is one row of the workflow policy table. An empty Target means
// the resulting status is decided by the handler (RejectReopen restores the
// status recorded in the ledger).
type Transition struct {
	Kind    TransitionKind
	Sources []models.AttendanceStatus
	Roles   []models.UserRole
	Target  models.AttendanceStatus
	Action  models.AuditAction
}

var attendanceTransitions = map[TransitionKind]Transition{
	TransitionCreate: {
		Kind:   TransitionCreate,
		Roles:  []models.UserRole{models.RoleTeacher},
		Target: models.AttendanceStatusDraft,
		Action: models.AuditActionCreated,
	},
	TransitionSubmit: {
		Kind:    TransitionSubmit,
		Sources: []models.AttendanceStatus{models.AttendanceStatusDraft},
		Roles:   []models.UserRole{models.RoleTeacher},
		Target:  models.AttendanceStatusSubmitted,
		Action:  models.AuditActionSubmitted,
	},
	TransitionApprove: {
		Kind:    TransitionApprove,
		Sources: []models.AttendanceStatus{models.AttendanceStatusSubmitted},
		Roles:   []models.UserRole{models.RoleAcademicCoordinator},
		Target:  models.AttendanceStatusApproved,
		Action:  models.AuditActionApproved,
	},
	TransitionPublish: {
		Kind:    TransitionPublish,
		Sources: []models.AttendanceStatus{models.AttendanceStatusApproved},
		Roles:   []models.UserRole{models.RoleAcademicCoordinator},
		Target:  models.AttendanceStatusPublished,
		Action:  models.AuditActionPublished,
	},
	TransitionLock: {
		Kind:    TransitionLock,
		Sources: []models.AttendanceStatus{models.AttendanceStatusPublished},
		Roles:   []models.UserRole{models.RoleAcademicCoordinator},
		Target:  models.AttendanceStatusLocked,
		Action:  models.AuditActionLocked,
	},
	TransitionRequestReopen: {
		Kind:    TransitionRequestReopen,
		Sources: []models.AttendanceStatus{models.AttendanceStatusSubmitted, models.AttendanceStatusApproved},
		Roles:   []models.UserRole{models.RoleTeacher, models.RoleAcademicCoordinator},
		Target:  models.AttendanceStatusReopenRequested,
		Action:  models.AuditActionReopenRequested,
	},
	TransitionApproveReopen: {
		Kind:    TransitionApproveReopen,
		Sources: []models.AttendanceStatus{models.AttendanceStatusReopenRequested},
		Roles:   []models.UserRole{models.RoleAcademicCoordinator},
		Target:  models.AttendanceStatusDraft,
		Action:  models.AuditActionReopenApproved,
	},
	TransitionRejectReopen: {
		Kind:    TransitionRejectReopen,
		Sources: []models.AttendanceStatus{models.AttendanceStatusReopenRequested},
		Roles:   []models.UserRole{models.RoleAcademicCoordinator},
		Action:  models.AuditActionReopenRejected,
	},
	TransitionApplyCorrection: {
		Kind:    TransitionApplyCorrection,
		Sources: []models.AttendanceStatus{models.AttendanceStatusPublished, models.AttendanceStatusApproved},
		Roles:   []models.UserRole{models.RoleAcademicCoordinator},
		Target:  models.AttendanceStatusCorrected,
		Action:  models.AuditActionCorrected,
	},
}

// LookupTransition returns the policy row for kind.
func LookupTransition(kind TransitionKind) (Transition, bool) {
	t, ok := attendanceTransitions[kind]
	return t, ok
}

// Authorize fails with FORBIDDEN unless role may run kind.
func Authorize(kind TransitionKind, role models.UserRole) error {
	t, ok := attendanceTransitions[kind]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown transition %q", kind))
	}
	for _, allowed := range t.Roles {
		if allowed == role {
			return nil
		}
	}
	return appErrors.WithField(
		appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s is not allowed to %s attendance", roleLabel(role), t.verb())),
		"role", string(role),
	)
}

// Guard fails with INVALID_STATE unless current is a source status of kind.
func Guard(kind TransitionKind, current models.AttendanceStatus) error {
	t, ok := attendanceTransitions[kind]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown transition %q", kind))
	}
	required := t.requiredLabel()
	if current.Terminal() {
		return appErrors.InvalidState(
			fmt.Sprintf("cannot %s attendance: status %s is final", t.verb(), current),
			string(current),
			required,
		)
	}
	for _, source := range t.Sources {
		if source == current {
			return nil
		}
	}
	return appErrors.InvalidState(
		fmt.Sprintf("cannot %s attendance in status %s; required status: %s", t.verb(), current, required),
		string(current),
		required,
	)
}

func (t Transition) requiredLabel() string {
	parts := make([]string, len(t.Sources))
	for i, s := range t.Sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, "|")
}

func (t Transition) verb() string {
	return strings.ToLower(strings.ReplaceAll(string(t.Kind), "_", " "))
}

func roleLabel(role models.UserRole) string {
	if role == "" {
		return "(none)"
	}
	return string(role)
}
