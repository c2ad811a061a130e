package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type recordResolver interface {
	GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	GetCurrent(ctx context.Context, studentID, courseID, date string) (*models.AttendanceRecord, error)
	GetLatestVersion(ctx context.Context, studentID, courseID, date string) (*models.AttendanceRecord, error)
	GetAllVersions(ctx context.Context, studentID, courseID, date string) ([]models.AttendanceRecord, error)
	GetChildVersions(ctx context.Context, id string) ([]models.AttendanceRecord, error)
	ListByStudentRange(ctx context.Context, studentID, from, to string) ([]models.AttendanceRecord, error)
	ListByCourseDate(ctx context.Context, courseID, date string) ([]models.AttendanceRecord, error)
	ListByStatuses(ctx context.Context, raw []string) ([]models.AttendanceRecord, error)
	GetReopenRequest(ctx context.Context, id string) (*models.ReopenRequest, error)
	ListReopenRequests(ctx context.Context, query dto.ReopenRequestQuery) ([]models.ReopenRequest, error)
	ListPendingReopenRequests(ctx context.Context) ([]models.ReopenRequest, error)
}

type auditTrail interface {
	GetAuditTrail(ctx context.Context, recordID string) ([]models.AuditTrailEntry, error)
	ListByActor(ctx context.Context, actorID string) ([]models.AuditTrailEntry, error)
	ListByDateRange(ctx context.Context, from, to string, actions ...string) ([]models.AuditTrailEntry, error)
	Export(ctx context.Context, recordID string, format dto.AuditExportFormat) (*dto.AuditExport, error)
}

// AttendanceQueryHandler exposes read endpoints over records, versions,
// reopen requests and the audit ledger.
type AttendanceQueryHandler struct {
	resolver recordResolver
	audit    auditTrail
}

// NewAttendanceQueryHandler builds a new handler.
func NewAttendanceQueryHandler(resolver recordResolver, audit auditTrail) *AttendanceQueryHandler {
	return &AttendanceQueryHandler{resolver: resolver, audit: audit}
}

// Get godoc
// @Summary Get an attendance record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/{id} [get]
func (h *AttendanceQueryHandler) Get(c *gin.Context) {
	record, err := h.resolver.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// ChildVersions godoc
// @Summary List versions created from a record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/versions [get]
func (h *AttendanceQueryHandler) ChildVersions(c *gin.Context) {
	records, err := h.resolver.GetChildVersions(c.Request.Context(), c.Param("id"))
	h.list(c, records, err)
}

// Current godoc
// @Summary Get the current record of a student, course and date
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/student/{studentId}/date/{date}/course/{courseId} [get]
func (h *AttendanceQueryHandler) Current(c *gin.Context) {
	record, err := h.resolver.GetCurrent(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// Latest godoc
// @Summary Get the highest version of a student, course and date
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/latest/student/{studentId}/date/{date}/course/{courseId} [get]
func (h *AttendanceQueryHandler) Latest(c *gin.Context) {
	record, err := h.resolver.GetLatestVersion(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// AllVersions godoc
// @Summary List every version of a student, course and date
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/versions/student/{studentId}/date/{date}/course/{courseId} [get]
func (h *AttendanceQueryHandler) AllVersions(c *gin.Context) {
	records, err := h.resolver.GetAllVersions(c.Request.Context(), c.Param("studentId"), c.Param("courseId"), c.Param("date"))
	h.list(c, records, err)
}

// StudentRange godoc
// @Summary List a student's attendance between two dates
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Param startDate query string true "Start date (YYYY-MM-DD)"
// @Param endDate query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/student/{studentId}/range [get]
func (h *AttendanceQueryHandler) StudentRange(c *gin.Context) {
	records, err := h.resolver.ListByStudentRange(c.Request.Context(), c.Param("studentId"), c.Query("startDate"), c.Query("endDate"))
	h.list(c, records, err)
}

// CourseDate godoc
// @Summary List attendance of one lesson
// @Tags Attendance
// @Produce json
// @Param courseId path string true "Course ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/course/{courseId}/date/{date} [get]
func (h *AttendanceQueryHandler) CourseDate(c *gin.Context) {
	records, err := h.resolver.ListByCourseDate(c.Request.Context(), c.Param("courseId"), c.Param("date"))
	h.list(c, records, err)
}

// ByStatus godoc
// @Summary List attendance by status
// @Tags Attendance
// @Produce json
// @Param status path string true "Status, comma separated for several"
// @Success 200 {object} response.Envelope
// @Router /attendance/status/{status} [get]
func (h *AttendanceQueryHandler) ByStatus(c *gin.Context) {
	records, err := h.resolver.ListByStatuses(c.Request.Context(), splitList(c.Param("status")))
	h.list(c, records, err)
}

// ReopenRequests godoc
// @Summary List reopen requests
// @Tags Attendance
// @Produce json
// @Param status query string false "Status filter, comma separated"
// @Param attendanceRecordId query string false "Attendance record filter"
// @Success 200 {object} response.Envelope
// @Router /attendance/reopen-requests [get]
func (h *AttendanceQueryHandler) ReopenRequests(c *gin.Context) {
	query := dto.ReopenRequestQuery{AttendanceRecordID: c.Query("attendanceRecordId")}
	for _, status := range splitList(c.Query("status")) {
		query.Status = append(query.Status, models.ReopenStatus(strings.ToUpper(status)))
	}
	reqs, err := h.resolver.ListReopenRequests(c.Request.Context(), query)
	h.reopens(c, reqs, err)
}

// PendingReopenRequests godoc
// @Summary List reopen requests awaiting a decision
// @Tags Attendance
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /attendance/reopen-requests/pending [get]
func (h *AttendanceQueryHandler) PendingReopenRequests(c *gin.Context) {
	reqs, err := h.resolver.ListPendingReopenRequests(c.Request.Context())
	h.reopens(c, reqs, err)
}

func (h *AttendanceQueryHandler) reopens(c *gin.Context, reqs []models.ReopenRequest, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(reqs))
	response.JSON(c, http.StatusOK, reqs, middleware.ExtractMeta(c))
}

// ReopenRequest godoc
// @Summary Get a reopen request
// @Tags Attendance
// @Produce json
// @Param id path string true "Reopen request ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/reopen-requests/{id} [get]
func (h *AttendanceQueryHandler) ReopenRequest(c *gin.Context) {
	req, err := h.resolver.GetReopenRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req)
}

// AuditTrail godoc
// @Summary Get the audit trail of a record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/audit-trail [get]
func (h *AttendanceQueryHandler) AuditTrail(c *gin.Context) {
	entries, err := h.audit.GetAuditTrail(c.Request.Context(), c.Param("id"))
	h.entries(c, entries, err)
}

// AuditByActor godoc
// @Summary List ledger entries written by one actor
// @Tags Attendance
// @Produce json
// @Param actorId path string true "Actor ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/audit/actor/{actorId} [get]
func (h *AttendanceQueryHandler) AuditByActor(c *gin.Context) {
	entries, err := h.audit.ListByActor(c.Request.Context(), c.Param("actorId"))
	h.entries(c, entries, err)
}

// AuditByDateRange godoc
// @Summary List ledger entries written between two dates
// @Tags Attendance
// @Produce json
// @Param startDate query string true "Start date (YYYY-MM-DD)"
// @Param endDate query string true "End date (YYYY-MM-DD)"
// @Param action query string false "Actions, comma separated"
// @Success 200 {object} response.Envelope
// @Router /attendance/audit [get]
func (h *AttendanceQueryHandler) AuditByDateRange(c *gin.Context) {
	entries, err := h.audit.ListByDateRange(c.Request.Context(), c.Query("startDate"), c.Query("endDate"), splitList(c.Query("action"))...)
	h.entries(c, entries, err)
}

// ExportAuditTrail godoc
// @Summary Download the audit trail of a record
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Attendance record ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /attendance/{id}/audit-trail/export [get]
func (h *AttendanceQueryHandler) ExportAuditTrail(c *gin.Context) {
	export, err := h.audit.Export(c.Request.Context(), c.Param("id"), dto.AuditExportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, export.Filename, export.ContentType, export.Body)
}

func (h *AttendanceQueryHandler) list(c *gin.Context, records []models.AttendanceRecord, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(records))
	response.JSON(c, http.StatusOK, records, middleware.ExtractMeta(c))
}

func (h *AttendanceQueryHandler) entries(c *gin.Context, entries []models.AuditTrailEntry, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(entries))
	response.JSON(c, http.StatusOK, entries, middleware.ExtractMeta(c))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

