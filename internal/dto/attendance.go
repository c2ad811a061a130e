package dto

import "github.com/noah-isme/sma-attendance-api/internal/models"

// DateLayout is the wire format for attendance dates.
const DateLayout = "2006-01-02"

// CreateAttendanceRequest marks attendance for one student in one course on one date.
type CreateAttendanceRequest struct {
	StudentID      string `json:"studentId" validate:"required"`
	CourseID       string `json:"courseId" validate:"required"`
	AttendanceDate string `json:"attendanceDate" validate:"required,datetime=2006-01-02"`
	IsPresent      *bool  `json:"isPresent" validate:"required"`
	Remarks        string `json:"remarks" validate:"max=500"`
}

// ApplyCorrectionRequest carries the corrected values of a finalized record.
type ApplyCorrectionRequest struct {
	IsPresent *bool  `json:"isPresent" validate:"required"`
	Remarks   string `json:"remarks" validate:"max=500"`
	Reason    string `json:"reason" validate:"required,max=1000"`
}

// RequestReopenRequest asks for a submitted or approved record to return to draft.
type RequestReopenRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ReviewReopenRequest carries the reviewer's comments on a reopen decision.
type ReviewReopenRequest struct {
	Comments string `json:"comments" validate:"max=1000"`
}

// RequestReopenResponse reports whether a reopen request was filed.
type RequestReopenResponse struct {
	Requested bool `json:"requested"`
}

// ReopenRequestQuery mirrors reopen listing filters.
type ReopenRequestQuery struct {
	AttendanceRecordID string
	Status             []models.ReopenStatus
}

// AuditExportFormat selects the export renderer.
type AuditExportFormat string

const (
	AuditExportCSV AuditExportFormat = "csv"
	AuditExportPDF AuditExportFormat = "pdf"
)

// AuditExport is a rendered audit trail ready to stream.
type AuditExport struct {
	Filename    string
	ContentType string
	Body        []byte
}
