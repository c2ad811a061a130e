package models

import "time"

// ReopenStatus captures the lifecycle of a reopen request.
type ReopenStatus string

const (
	ReopenStatusPending  ReopenStatus = "PENDING"
	ReopenStatusApproved ReopenStatus = "APPROVED"
	ReopenStatusRejected ReopenStatus = "REJECTED"
)

// ReopenRequest asks for a submitted or approved record to return to DRAFT.
type ReopenRequest struct {
	ID                 string       `db:"id" json:"id"`
	AttendanceRecordID string       `db:"attendance_record_id" json:"attendanceRecordId"`
	Reason             string       `db:"reason" json:"reason"`
	RequestedBy        string       `db:"requested_by" json:"requestedBy"`
	RequestedAt        time.Time    `db:"requested_at" json:"requestedAt"`
	Status             ReopenStatus `db:"status" json:"status"`
	ApprovedBy         *string      `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt         *time.Time   `db:"approved_at" json:"approvedAt,omitempty"`
	ApprovalComments   string       `db:"approval_comments" json:"approvalComments,omitempty"`
}

// ReopenRequestFilter constrains reopen request listings.
type ReopenRequestFilter struct {
	AttendanceRecordID string
	Status             []ReopenStatus
	Limit              int
	Offset             int
}
