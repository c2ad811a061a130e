package models

import (
	"fmt"
	"strings"
	"time"
)

// AttendanceStatus is the workflow state of an attendance record.
type AttendanceStatus string

const (
	AttendanceStatusDraft           AttendanceStatus = "DRAFT"
	AttendanceStatusSubmitted       AttendanceStatus = "SUBMITTED"
	AttendanceStatusApproved        AttendanceStatus = "APPROVED"
	AttendanceStatusPublished       AttendanceStatus = "PUBLISHED"
	AttendanceStatusLocked          AttendanceStatus = "LOCKED"
	AttendanceStatusReopenRequested AttendanceStatus = "REOPEN_REQUESTED"
	AttendanceStatusCorrected       AttendanceStatus = "CORRECTED"
)

// AttendanceStatuses lists every status in workflow order.
var AttendanceStatuses = []AttendanceStatus{
	AttendanceStatusDraft,
	AttendanceStatusSubmitted,
	AttendanceStatusApproved,
	AttendanceStatusPublished,
	AttendanceStatusLocked,
	AttendanceStatusReopenRequested,
	AttendanceStatusCorrected,
}

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	for _, known := range AttendanceStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave the status.
func (s AttendanceStatus) Terminal() bool {
	return s == AttendanceStatusLocked || s == AttendanceStatusCorrected
}

// ParseAttendanceStatus accepts DRAFT, draft, Draft, REOPEN_REQUESTED and
// ReopenRequested style spellings.
func ParseAttendanceStatus(raw string) (AttendanceStatus, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""))
	for _, s := range AttendanceStatuses {
		if strings.ReplaceAll(string(s), "_", "") == normalized && normalized != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid attendance status: %q", raw)
}

// AttendanceRecord is one attendance decision for (student, course, date, version).
type AttendanceRecord struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"studentId"`
	CourseID        string           `db:"course_id" json:"courseId"`
	AttendanceDate  time.Time        `db:"attendance_date" json:"attendanceDate"`
	Status          AttendanceStatus `db:"status" json:"status"`
	IsPresent       bool             `db:"is_present" json:"isPresent"`
	Remarks         string           `db:"remarks" json:"remarks"`
	Version         int              `db:"version" json:"version"`
	ParentVersionID *string          `db:"parent_version_id" json:"parentVersionId,omitempty"`
	RowVersion      int64            `db:"row_version" json:"-"`
	SubmittedAt     *time.Time       `db:"submitted_at" json:"submittedAt,omitempty"`
	SubmittedBy     *string          `db:"submitted_by" json:"submittedBy,omitempty"`
	ApprovedAt      *time.Time       `db:"approved_at" json:"approvedAt,omitempty"`
	ApprovedBy      *string          `db:"approved_by" json:"approvedBy,omitempty"`
	PublishedAt     *time.Time       `db:"published_at" json:"publishedAt,omitempty"`
	PublishedBy     *string          `db:"published_by" json:"publishedBy,omitempty"`
	ReopenedAt      *time.Time       `db:"reopened_at" json:"reopenedAt,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
	CreatedBy       string           `db:"created_by" json:"createdBy"`
	ModifiedAt      time.Time        `db:"modified_at" json:"modifiedAt"`
	ModifiedBy      string           `db:"modified_by" json:"modifiedBy"`
}

// Clone returns a deep copy so callers can mutate without aliasing pointer fields.
func (r AttendanceRecord) Clone() AttendanceRecord {
	out := r
	out.ParentVersionID = cloneString(r.ParentVersionID)
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.SubmittedBy = cloneString(r.SubmittedBy)
	out.ApprovedAt = cloneTime(r.ApprovedAt)
	out.ApprovedBy = cloneString(r.ApprovedBy)
	out.PublishedAt = cloneTime(r.PublishedAt)
	out.PublishedBy = cloneString(r.PublishedBy)
	out.ReopenedAt = cloneTime(r.ReopenedAt)
	return out
}

// DeadlineAnchor is the instant the submission window is measured from:
// creation, or the last reopen approval when restartOnReopen is set.
func (r AttendanceRecord) DeadlineAnchor(restartOnReopen bool) time.Time {
	if restartOnReopen && r.ReopenedAt != nil {
		return *r.ReopenedAt
	}
	return r.CreatedAt
}

// ValueSnapshot renders presence and remarks for audit before/after columns.
func (r AttendanceRecord) ValueSnapshot() string {
	return fmt.Sprintf("IsPresent: %t, Remarks: %s", r.IsPresent, r.Remarks)
}

// NewCorrectionVersion builds the next version of rec. rec itself is not
// touched; the caller flips it to CORRECTED and overwrites the corrected values
// on the returned record before persisting both.
func NewCorrectionVersion(rec AttendanceRecord) AttendanceRecord {
	parentID := rec.ID
	return AttendanceRecord{
		StudentID:       rec.StudentID,
		CourseID:        rec.CourseID,
		AttendanceDate:  rec.AttendanceDate,
		Status:          AttendanceStatusDraft,
		IsPresent:       rec.IsPresent,
		Remarks:         rec.Remarks,
		Version:         rec.Version + 1,
		ParentVersionID: &parentID,
	}
}

// DateOnly truncates t to a UTC calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
