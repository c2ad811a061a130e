package models

import (
	"fmt"
	"strings"
	"time"
)

// AuditAction labels one attendance transition in the ledger.
type AuditAction string

const (
	AuditActionCreated           AuditAction = "Created"
	AuditActionSubmitted         AuditAction = "Submitted"
	AuditActionApproved          AuditAction = "Approved"
	AuditActionPublished         AuditAction = "Published"
	AuditActionLocked            AuditAction = "Locked"
	AuditActionReopenRequested   AuditAction = "ReopenRequested"
	AuditActionReopenApproved    AuditAction = "ReopenApproved"
	AuditActionReopenRejected    AuditAction = "ReopenRejected"
	AuditActionCorrected         AuditAction = "Corrected"
	AuditActionCorrectionCreated AuditAction = "CorrectionCreated"
)

// AuditActions lists every ledger action.
var AuditActions = []AuditAction{
	AuditActionCreated,
	AuditActionSubmitted,
	AuditActionApproved,
	AuditActionPublished,
	AuditActionLocked,
	AuditActionReopenRequested,
	AuditActionReopenApproved,
	AuditActionReopenRejected,
	AuditActionCorrected,
	AuditActionCorrectionCreated,
}

// ParseAuditAction matches raw against the known actions ignoring case and
// underscores, so REOPEN_REQUESTED and ReopenRequested are equivalent.
func ParseAuditAction(raw string) (AuditAction, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""))
	for _, action := range AuditActions {
		if normalized != "" && strings.ToLower(string(action)) == normalized {
			return action, nil
		}
	}
	return "", fmt.Errorf("invalid audit action: %q", raw)
}

// AuditLog is one immutable ledger entry for an attendance transition.
type AuditLog struct {
	ID                 string            `db:"id" json:"id"`
	AttendanceRecordID string            `db:"attendance_record_id" json:"attendanceRecordId"`
	Action             AuditAction       `db:"action" json:"action"`
	PreviousStatus     *AttendanceStatus `db:"previous_status" json:"previousStatus,omitempty"`
	NewStatus          AttendanceStatus  `db:"new_status" json:"newStatus"`
	ActorID            string            `db:"actor_id" json:"actorId"`
	ActorRole          UserRole          `db:"actor_role" json:"actorRole"`
	Reason             string            `db:"reason" json:"reason"`
	PreviousValue      string            `db:"previous_value" json:"previousValue,omitempty"`
	NewValue           string            `db:"new_value" json:"newValue,omitempty"`
	ContextInfo        string            `db:"context_info" json:"contextInfo,omitempty"`
	ActionTimestamp    time.Time         `db:"action_timestamp" json:"actionTimestamp"`
}

// AuditTrailEntry is an audit log enriched with the actor's display name.
type AuditTrailEntry struct {
	AuditLog
	ActorName string `json:"actorName"`
}

// AuditLogFilter scopes ledger queries.
type AuditLogFilter struct {
	AttendanceRecordID string
	ActorID            string
	From               *time.Time
	To                 *time.Time
	Actions            []AuditAction
}
