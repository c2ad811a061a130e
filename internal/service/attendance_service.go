package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
)

// DefaultSubmissionDeadline bounds how long a draft may wait before submission.
const DefaultSubmissionDeadline = 24 * time.Hour

type attendanceStore interface {
	WithTx(ctx context.Context, fn func(tx repository.AttendanceTx) error) error
	GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
}

type existenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// AttendanceService runs the attendance workflow. Every mutating call is one
// unit of work: the record change, its audit entries and any reopen request
// or correction version are committed together or not at all.
type AttendanceService struct {
	store     attendanceStore
	students  existenceChecker
	courses   existenceChecker
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	deadline  time.Duration
	now       func() time.Time

	restartDeadlineOnReopen bool
}

// AttendanceServiceOption configures the service.
type AttendanceServiceOption func(*AttendanceService)

// WithSubmissionDeadline overrides the draft submission window.
func WithSubmissionDeadline(d time.Duration) AttendanceServiceOption {
	return func(s *AttendanceService) {
		if d > 0 {
			s.deadline = d
		}
	}
}

// WithDeadlineRestartOnReopen measures the submission window from the last
// reopen approval instead of record creation.
func WithDeadlineRestartOnReopen(enabled bool) AttendanceServiceOption {
	return func(s *AttendanceService) {
		s.restartDeadlineOnReopen = enabled
	}
}

// WithAttendanceClock replaces the wall clock, mainly for tests.
func WithAttendanceClock(now func() time.Time) AttendanceServiceOption {
	return func(s *AttendanceService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAttendanceMetrics records transition outcomes.
func WithAttendanceMetrics(metrics *MetricsService) AttendanceServiceOption {
	return func(s *AttendanceService) {
		s.metrics = metrics
	}
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(store attendanceStore, students, courses existenceChecker, logger *zap.Logger, opts ...AttendanceServiceOption) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AttendanceService{
		store:     store,
		students:  students,
		courses:   courses,
		validator: validator.New(),
		logger:    logger,
		deadline:  DefaultSubmissionDeadline,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create marks attendance as a new draft record.
func (s *AttendanceService) Create(ctx context.Context, req dto.CreateAttendanceRequest, actor models.Actor) (*models.AttendanceRecord, error) {
	if err := s.authorize(TransitionCreate, actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, s.observe(TransitionCreate, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload"))
	}
	date, err := time.Parse(dto.DateLayout, req.AttendanceDate)
	if err != nil {
		return nil, s.observe(TransitionCreate, appErrors.Clone(appErrors.ErrValidation, "attendanceDate must use YYYY-MM-DD"))
	}
	if err := s.ensureExists(ctx, s.students, req.StudentID, "student"); err != nil {
		return nil, s.observe(TransitionCreate, err)
	}
	if err := s.ensureExists(ctx, s.courses, req.CourseID, "course"); err != nil {
		return nil, s.observe(TransitionCreate, err)
	}

	now := s.now()
	record := &models.AttendanceRecord{
		StudentID:      req.StudentID,
		CourseID:       req.CourseID,
		AttendanceDate: models.DateOnly(date),
		Status:         models.AttendanceStatusDraft,
		IsPresent:      *req.IsPresent,
		Remarks:        strings.TrimSpace(req.Remarks),
		Version:        0,
		CreatedAt:      now,
		CreatedBy:      actor.ID,
		ModifiedAt:     now,
		ModifiedBy:     actor.ID,
	}
	err = s.store.WithTx(ctx, func(tx repository.AttendanceTx) error {
		existing, err := tx.FindActiveRecord(ctx, record.StudentID, record.CourseID, record.AttendanceDate)
		switch {
		case err == nil:
			return appErrors.InvalidState("attendance already recorded for this student, course and date", string(existing.Status), "")
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		if err := tx.InsertRecord(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.InvalidState("attendance already recorded for this student, course and date", string(models.AttendanceStatusDraft), "")
			}
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditLog{
			AttendanceRecordID: record.ID,
			Action:             models.AuditActionCreated,
			NewStatus:          record.Status,
			ActorID:            actor.ID,
			ActorRole:          actor.Role,
			Reason:             fmt.Sprintf("Attendance marked - Present: %t", record.IsPresent),
			NewValue:           record.ValueSnapshot(),
			ContextInfo:        actor.ContextInfo,
			ActionTimestamp:    now,
		})
	})
	if err != nil {
		return nil, s.observe(TransitionCreate, s.fail(err, "failed to create attendance"))
	}
	s.observe(TransitionCreate, nil)
	s.logTransition(ctx, TransitionCreate, record.ID, actor)
	return record, nil
}

// Submit hands a draft over for approval within the submission window.
func (s *AttendanceService) Submit(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error) {
	return s.transition(ctx, TransitionSubmit, id, actor, func(record *models.AttendanceRecord, now time.Time) (string, error) {
		if now.Sub(record.DeadlineAnchor(s.restartDeadlineOnReopen)) > s.deadline {
			return "", appErrors.InvalidState(
				fmt.Sprintf("Submission deadline has passed (%s). Request reopen if needed.", describeDuration(s.deadline)),
				string(record.Status),
				"",
			)
		}
		record.SubmittedAt = &now
		record.SubmittedBy = stringPtr(actor.ID)
		return "Attendance submitted for approval", nil
	})
}

// Approve accepts a submitted record.
func (s *AttendanceService) Approve(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error) {
	return s.transition(ctx, TransitionApprove, id, actor, func(record *models.AttendanceRecord, now time.Time) (string, error) {
		record.ApprovedAt = &now
		record.ApprovedBy = stringPtr(actor.ID)
		return "Attendance approved", nil
	})
}

// Publish makes an approved record visible to students and guardians.
func (s *AttendanceService) Publish(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error) {
	return s.transition(ctx, TransitionPublish, id, actor, func(record *models.AttendanceRecord, now time.Time) (string, error) {
		record.PublishedAt = &now
		record.PublishedBy = stringPtr(actor.ID)
		return "Attendance published", nil
	})
}

// Lock freezes a published record for good.
func (s *AttendanceService) Lock(ctx context.Context, id string, actor models.Actor) (*models.AttendanceRecord, error) {
	return s.transition(ctx, TransitionLock, id, actor, func(*models.AttendanceRecord, time.Time) (string, error) {
		return "Attendance locked - no further changes allowed", nil
	})
}

// RequestReopen files a pending reopen request and parks the record in REOPEN_REQUESTED.
func (s *AttendanceService) RequestReopen(ctx context.Context, id, reason string, actor models.Actor) (bool, error) {
	if err := s.authorize(TransitionRequestReopen, actor); err != nil {
		return false, err
	}
	reason = strings.TrimSpace(reason)
	if err := s.validator.Struct(dto.RequestReopenRequest{Reason: reason}); err != nil {
		return false, s.observe(TransitionRequestReopen, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "reopen reason is required"))
	}
	now := s.now()
	err := s.store.WithTx(ctx, func(tx repository.AttendanceTx) error {
		record, err := s.lockRecord(ctx, tx, TransitionRequestReopen, id)
		if err != nil {
			return err
		}
		if pending, err := tx.FindPendingReopenRequest(ctx, record.ID); err == nil {
			return appErrors.WithField(
				appErrors.InvalidState("a reopen request is already pending for this attendance", string(record.Status), ""),
				"reopenRequestId", pending.ID,
			)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := tx.InsertReopenRequest(ctx, &models.ReopenRequest{
			AttendanceRecordID: record.ID,
			Reason:             reason,
			RequestedBy:        actor.ID,
			RequestedAt:        now,
			Status:             models.ReopenStatusPending,
		}); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.InvalidState("a reopen request is already pending for this attendance", string(record.Status), "")
			}
			return err
		}
		return s.apply(ctx, tx, TransitionRequestReopen, record, models.AttendanceStatusReopenRequested, actor, now, reason)
	})
	if err != nil {
		return false, s.observe(TransitionRequestReopen, s.resolveStale(ctx, err, TransitionRequestReopen, id))
	}
	s.observe(TransitionRequestReopen, nil)
	s.logTransition(ctx, TransitionRequestReopen, id, actor)
	return true, nil
}

// ApproveReopen returns the record behind a pending reopen request to DRAFT.
// The submission window restarts from the approval time.
func (s *AttendanceService) ApproveReopen(ctx context.Context, reopenID, comments string, actor models.Actor) (*models.AttendanceRecord, error) {
	return s.resolveReopen(ctx, TransitionApproveReopen, reopenID, comments, actor)
}

// RejectReopen closes a pending reopen request and restores the status the
// record had when the request was filed, as recorded in the ledger.
func (s *AttendanceService) RejectReopen(ctx context.Context, reopenID, comments string, actor models.Actor) (*models.AttendanceRecord, error) {
	return s.resolveReopen(ctx, TransitionRejectReopen, reopenID, comments, actor)
}

func (s *AttendanceService) resolveReopen(ctx context.Context, kind TransitionKind, reopenID, comments string, actor models.Actor) (*models.AttendanceRecord, error) {
	if err := s.authorize(kind, actor); err != nil {
		return nil, err
	}
	comments = strings.TrimSpace(comments)
	if err := s.validator.Struct(dto.ReviewReopenRequest{Comments: comments}); err != nil {
		return nil, s.observe(kind, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reopen review"))
	}
	now := s.now()
	var (
		recordID string
		result   *models.AttendanceRecord
	)
	err := s.store.WithTx(ctx, func(tx repository.AttendanceTx) error {
		req, err := tx.GetReopenRequestForUpdate(ctx, reopenID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "reopen request not found")
			}
			return err
		}
		if req.Status != models.ReopenStatusPending {
			return appErrors.InvalidState("reopen request has already been resolved", string(req.Status), string(models.ReopenStatusPending))
		}
		recordID = req.AttendanceRecordID
		record, err := s.lockRecord(ctx, tx, kind, req.AttendanceRecordID)
		if err != nil {
			return err
		}

		target := models.AttendanceStatusDraft
		reason := fmt.Sprintf("Reopen approved. Comments: %s", comments)
		req.Status = models.ReopenStatusApproved
		if kind == TransitionRejectReopen {
			target, err = s.statusBeforeReopen(ctx, tx, record.ID)
			if err != nil {
				return err
			}
			reason = fmt.Sprintf("Reopen rejected. Comments: %s", comments)
			req.Status = models.ReopenStatusRejected
		} else {
			record.ReopenedAt = &now
		}

		req.ApprovedBy = stringPtr(actor.ID)
		req.ApprovedAt = &now
		req.ApprovalComments = comments
		if err := tx.ResolveReopenRequest(ctx, req); err != nil {
			if errors.Is(err, repository.ErrStaleRecord) {
				return appErrors.InvalidState("reopen request has already been resolved", "", string(models.ReopenStatusPending))
			}
			return err
		}
		if err := s.apply(ctx, tx, kind, record, target, actor, now, reason); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, s.observe(kind, s.resolveStale(ctx, err, kind, recordID))
	}
	s.observe(kind, nil)
	s.logTransition(ctx, kind, result.ID, actor, zap.String("reopen_request_id", reopenID))
	return result, nil
}

func (s *AttendanceService) statusBeforeReopen(ctx context.Context, tx repository.AttendanceTx, recordID string) (models.AttendanceStatus, error) {
	entry, err := tx.LatestAudit(ctx, recordID, models.AuditActionReopenRequested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrInvariantViolation, "ledger holds no reopen request entry for this attendance")
		}
		return "", err
	}
	if entry.PreviousStatus == nil || Guard(TransitionRequestReopen, *entry.PreviousStatus) != nil {
		return "", appErrors.Clone(appErrors.ErrInvariantViolation, "ledger reopen entry carries no restorable status")
	}
	return *entry.PreviousStatus, nil
}

// ApplyCorrection supersedes an approved or published record with a new
// draft version carrying the corrected values. The original becomes CORRECTED.
func (s *AttendanceService) ApplyCorrection(ctx context.Context, id string, req dto.ApplyCorrectionRequest, actor models.Actor) (*models.AttendanceRecord, error) {
	if err := s.authorize(TransitionApplyCorrection, actor); err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, s.observe(TransitionApplyCorrection, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid correction payload"))
	}
	now := s.now()
	var correction models.AttendanceRecord
	err := s.store.WithTx(ctx, func(tx repository.AttendanceTx) error {
		original, err := s.lockRecord(ctx, tx, TransitionApplyCorrection, id)
		if err != nil {
			return err
		}
		correction = models.NewCorrectionVersion(*original)
		correction.IsPresent = *req.IsPresent
		correction.Remarks = strings.TrimSpace(req.Remarks)
		correction.CreatedAt = now
		correction.CreatedBy = actor.ID
		correction.ModifiedAt = now
		correction.ModifiedBy = actor.ID

		before := original.ValueSnapshot()
		after := correction.ValueSnapshot()
		if err := s.apply(ctx, tx, TransitionApplyCorrection, original, models.AttendanceStatusCorrected, actor, now,
			fmt.Sprintf("Correction applied. Reason: %s", req.Reason), withValues(before, after)); err != nil {
			return err
		}
		if err := tx.InsertRecord(ctx, &correction); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.InvalidState("a correction for this version already exists", string(original.Status), "")
			}
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditLog{
			AttendanceRecordID: correction.ID,
			Action:             models.AuditActionCorrectionCreated,
			NewStatus:          correction.Status,
			ActorID:            actor.ID,
			ActorRole:          actor.Role,
			Reason:             fmt.Sprintf("New correction version created. Reason: %s", req.Reason),
			PreviousValue:      before,
			NewValue:           after,
			ContextInfo:        actor.ContextInfo,
			ActionTimestamp:    now,
		})
	})
	if err != nil {
		return nil, s.observe(TransitionApplyCorrection, s.resolveStale(ctx, err, TransitionApplyCorrection, id))
	}
	s.observe(TransitionApplyCorrection, nil)
	s.logTransition(ctx, TransitionApplyCorrection, id, actor, zap.String("correction_id", correction.ID), zap.Int("version", correction.Version))
	return &correction, nil
}

type mutateFunc func(record *models.AttendanceRecord, now time.Time) (reason string, err error)

func (s *AttendanceService) transition(ctx context.Context, kind TransitionKind, id string, actor models.Actor, mutate mutateFunc) (*models.AttendanceRecord, error) {
	if err := s.authorize(kind, actor); err != nil {
		return nil, err
	}
	t, _ := LookupTransition(kind)
	now := s.now()
	var result *models.AttendanceRecord
	err := s.store.WithTx(ctx, func(tx repository.AttendanceTx) error {
		record, err := s.lockRecord(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		reason, err := mutate(record, now)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, tx, kind, record, t.Target, actor, now, reason); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, s.observe(kind, s.resolveStale(ctx, err, kind, id))
	}
	s.observe(kind, nil)
	s.logTransition(ctx, kind, id, actor)
	return result, nil
}

func (s *AttendanceService) lockRecord(ctx context.Context, tx repository.AttendanceTx, kind TransitionKind, id string) (*models.AttendanceRecord, error) {
	record, err := tx.GetRecordForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, err
	}
	if err := Guard(kind, record.Status); err != nil {
		return nil, err
	}
	return record, nil
}

type auditOption func(*models.AuditLog)

func withValues(before, after string) auditOption {
	return func(entry *models.AuditLog) {
		entry.PreviousValue = before
		entry.NewValue = after
	}
}

// apply moves record to target with a compare-and-swap write and appends
// the matching ledger entry in the same transaction.
func (s *AttendanceService) apply(ctx context.Context, tx repository.AttendanceTx, kind TransitionKind, record *models.AttendanceRecord, target models.AttendanceStatus, actor models.Actor, now time.Time, reason string, opts ...auditOption) error {
	t, _ := LookupTransition(kind)
	previous := record.Status
	record.Status = target
	record.ModifiedAt = now
	record.ModifiedBy = actor.ID
	if err := tx.UpdateRecord(ctx, record, previous); err != nil {
		return err
	}
	entry := &models.AuditLog{
		AttendanceRecordID: record.ID,
		Action:             t.Action,
		PreviousStatus:     &previous,
		NewStatus:          target,
		ActorID:            actor.ID,
		ActorRole:          actor.Role,
		Reason:             reason,
		ContextInfo:        actor.ContextInfo,
		ActionTimestamp:    now,
	}
	for _, opt := range opts {
		opt(entry)
	}
	return tx.AppendAudit(ctx, entry)
}

func (s *AttendanceService) authorize(kind TransitionKind, actor models.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return s.observe(kind, appErrors.Clone(appErrors.ErrUnauthorized, "actor is required"))
	}
	if err := Authorize(kind, actor.Role); err != nil {
		return s.observe(kind, err)
	}
	return nil
}

func (s *AttendanceService) ensureExists(ctx context.Context, checker existenceChecker, id, label string) error {
	if checker == nil {
		return nil
	}
	ok, err := checker.Exists(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to look up %s", label))
	}
	if !ok {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrNotFound, label+" not found"), label+"Id", id)
	}
	return nil
}

// resolveStale turns a lost compare-and-swap into an INVALID_STATE error
// derived from a fresh read of the record.
func (s *AttendanceService) resolveStale(ctx context.Context, err error, kind TransitionKind, recordID string) error {
	if !errors.Is(err, repository.ErrStaleRecord) {
		return s.fail(err, "failed to update attendance")
	}
	s.logger.Info("attendance write lost a concurrent update",
		zap.String("record_id", recordID),
		zap.String("action", string(kind)),
		zap.String("request_id", requestid.FromContext(ctx)),
	)
	if recordID == "" {
		return appErrors.InvalidState("attendance record was modified concurrently", "", "")
	}
	fresh, readErr := s.store.GetByID(ctx, recordID)
	if readErr != nil {
		return s.fail(readErr, "failed to reload attendance")
	}
	if guardErr := Guard(kind, fresh.Status); guardErr != nil {
		return guardErr
	}
	t, _ := LookupTransition(kind)
	return appErrors.InvalidState("attendance record was modified concurrently", string(fresh.Status), t.requiredLabel())
}

func (s *AttendanceService) fail(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *AttendanceService) observe(kind TransitionKind, err error) error {
	outcome := "success"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.ObserveAttendanceTransition(string(kind), outcome)
	return err
}

func (s *AttendanceService) logTransition(ctx context.Context, kind TransitionKind, recordID string, actor models.Actor, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("record_id", recordID),
		zap.String("action", string(kind)),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", string(actor.Role)),
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		base = append(base, zap.String("request_id", reqID))
	}
	s.logger.Info("attendance transition applied", append(base, fields...)...)
}

func describeDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}

func stringPtr(v string) *string {
	return &v
}
