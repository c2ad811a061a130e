package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type attendanceWorkflow interface {
	Create(ctx context.Context, req dto.CreateAttendanceRequest, actor models.Actor) (*models.AttendanceRecord, error)
	Submit(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error)
	Approve(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error)
	Publish(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error)
	Lock(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error)
	RequestReopen(ctx context.Context, id, reason string, actor models.Actor) (bool, error)
	ApproveReopen(ctx context.Context, reopenID, comments string, actor models.Actor) (*models.AttendanceRecord, error)
	RejectReopen(ctx context.Context, reopenID, comments string, actor models.Actor) (*models.AttendanceRecord, error)
	ApplyCorrection(ctx context.Context, id string, req dto.ApplyCorrectionRequest, actor models.Actor) (*models.AttendanceRecord, error)
}

// AttendanceHandler exposes the attendance workflow commands.
type AttendanceHandler struct {
	workflow attendanceWorkflow
}

// NewAttendanceHandler builds a new handler.
func NewAttendanceHandler(workflow attendanceWorkflow) *AttendanceHandler {
	return &AttendanceHandler{workflow: workflow}
}

// Create godoc
// @Summary Mark attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.CreateAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Create(c *gin.Context) {
	var req dto.CreateAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	record, err := h.workflow.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Submit godoc
// @Summary Submit a draft for approval
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/submit [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	h.runTransition(c, h.workflow.Submit)
}

// Approve godoc
// @Summary Approve a submitted record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/approve [post]
func (h *AttendanceHandler) Approve(c *gin.Context) {
	h.runTransition(c, h.workflow.Approve)
}

// Publish godoc
// @Summary Publish an approved record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/publish [post]
func (h *AttendanceHandler) Publish(c *gin.Context) {
	h.runTransition(c, h.workflow.Publish)
}

// Lock godoc
// @Summary Lock a published record
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/lock [post]
func (h *AttendanceHandler) Lock(c *gin.Context) {
	h.runTransition(c, h.workflow.Lock)
}

func (h *AttendanceHandler) runTransition(c *gin.Context, fn func(context.Context, string, models.Actor) (*models.AttendanceRecord, error)) {
	record, err := fn(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// RequestReopen godoc
// @Summary Request reopening a submitted or approved record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance record ID"
// @Param payload body dto.RequestReopenRequest true "Reopen reason"
// @Success 201 {object} response.Envelope
// @Router /attendance/{id}/request-reopen [post]
func (h *AttendanceHandler) RequestReopen(c *gin.Context) {
	var req dto.RequestReopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reopen payload"))
		return
	}
	ok, err := h.workflow.RequestReopen(c.Request.Context(), c.Param("id"), req.Reason, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.RequestReopenResponse{Requested: ok})
}

// ApproveReopen godoc
// @Summary Approve a pending reopen request
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Reopen request ID"
// @Param payload body dto.ReviewReopenRequest false "Reviewer comments"
// @Success 200 {object} response.Envelope
// @Router /attendance/reopen-requests/{id}/approve [post]
func (h *AttendanceHandler) ApproveReopen(c *gin.Context) {
	h.reviewReopen(c, h.workflow.ApproveReopen)
}

// RejectReopen godoc
// @Summary Reject a pending reopen request
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Reopen request ID"
// @Param payload body dto.ReviewReopenRequest false "Reviewer comments"
// @Success 200 {object} response.Envelope
// @Router /attendance/reopen-requests/{id}/reject [post]
func (h *AttendanceHandler) RejectReopen(c *gin.Context) {
	h.reviewReopen(c, h.workflow.RejectReopen)
}

func (h *AttendanceHandler) reviewReopen(c *gin.Context, fn func(context.Context, string, string, models.Actor) (*models.AttendanceRecord, error)) {
	var req dto.ReviewReopenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reopen review payload"))
			return
		}
	}
	record, err := fn(c.Request.Context(), c.Param("id"), req.Comments, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// ApplyCorrection godoc
// @Summary Supersede an approved or published record with a corrected version
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance record ID"
// @Param payload body dto.ApplyCorrectionRequest true "Corrected values"
// @Success 201 {object} response.Envelope
// @Router /attendance/{id}/apply-correction [post]
func (h *AttendanceHandler) ApplyCorrection(c *gin.Context) {
	var req dto.ApplyCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid correction payload"))
		return
	}
	record, err := h.workflow.ApplyCorrection(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}
