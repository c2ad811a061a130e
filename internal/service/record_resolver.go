package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

type attendanceReader interface {
	GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	GetCurrent(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error)
	GetLatestVersion(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error)
	ListVersions(ctx context.Context, studentID, courseID string, date time.Time) ([]models.AttendanceRecord, error)
	ListChildren(ctx context.Context, parentID string) ([]models.AttendanceRecord, error)
	ListByStudentRange(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error)
	ListByCourseDate(ctx context.Context, courseID string, date time.Time) ([]models.AttendanceRecord, error)
	ListByStatuses(ctx context.Context, statuses []models.AttendanceStatus) ([]models.AttendanceRecord, error)
}

type reopenReader interface {
	GetByID(ctx context.Context, id string) (*models.ReopenRequest, error)
	List(ctx context.Context, filter models.ReopenRequestFilter) ([]models.ReopenRequest, error)
}

// RecordResolver answers read queries over attendance version chains.
// Range and course queries see root records only; status queries span every version.
type RecordResolver struct {
	records attendanceReader
	reopens reopenReader
	logger  *zap.Logger
}

// NewRecordResolver constructs the resolver.
func NewRecordResolver(records attendanceReader, reopens reopenReader, logger *zap.Logger) *RecordResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordResolver{records: records, reopens: reopens, logger: logger}
}

// GetByID returns one record.
func (r *RecordResolver) GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	record, err := r.records.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "attendance record not found", "failed to load attendance")
	}
	return record, nil
}

// GetCurrent returns the root record of a (student, course, date) group.
func (r *RecordResolver) GetCurrent(ctx context.Context, studentID, courseID, date string) (*models.AttendanceRecord, error) {
	day, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	record, err := r.records.GetCurrent(ctx, studentID, courseID, day)
	if err != nil {
		return nil, notFoundOr(err, "attendance record not found", "failed to load attendance")
	}
	return record, nil
}

// GetLatestVersion returns the newest version of a group, which carries the
// effective values after corrections.
func (r *RecordResolver) GetLatestVersion(ctx context.Context, studentID, courseID, date string) (*models.AttendanceRecord, error) {
	day, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	record, err := r.records.GetLatestVersion(ctx, studentID, courseID, day)
	if err != nil {
		return nil, notFoundOr(err, "attendance record not found", "failed to load attendance")
	}
	return record, nil
}

// GetAllVersions returns the full chain ordered by version ascending.
func (r *RecordResolver) GetAllVersions(ctx context.Context, studentID, courseID, date string) ([]models.AttendanceRecord, error) {
	day, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	records, err := r.records.ListVersions(ctx, studentID, courseID, day)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance versions")
	}
	return nonNilRecords(records), nil
}

// GetChildVersions returns versions created directly from id.
func (r *RecordResolver) GetChildVersions(ctx context.Context, id string) ([]models.AttendanceRecord, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	records, err := r.records.ListChildren(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list child versions")
	}
	return nonNilRecords(records), nil
}

// ListByStudentRange returns a student's root records between two dates inclusive.
func (r *RecordResolver) ListByStudentRange(ctx context.Context, studentID, from, to string) ([]models.AttendanceRecord, error) {
	start, err := parseDate("startDate", from)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("endDate", to)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must not be after endDate")
	}
	records, err := r.records.ListByStudentRange(ctx, studentID, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return nonNilRecords(records), nil
}

// ListByCourseDate returns the root records of one lesson.
func (r *RecordResolver) ListByCourseDate(ctx context.Context, courseID, date string) ([]models.AttendanceRecord, error) {
	day, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	records, err := r.records.ListByCourseDate(ctx, courseID, day)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return nonNilRecords(records), nil
}

// ListByStatus parses raw and returns every version currently in that status.
func (r *RecordResolver) ListByStatus(ctx context.Context, raw string) ([]models.AttendanceRecord, error) {
	return r.ListByStatuses(ctx, []string{raw})
}

// ListByStatuses returns every version whose status is one of raw.
func (r *RecordResolver) ListByStatuses(ctx context.Context, raw []string) ([]models.AttendanceRecord, error) {
	statuses := make([]models.AttendanceStatus, 0, len(raw))
	for _, value := range raw {
		status, err := models.ParseAttendanceStatus(value)
		if err != nil {
			return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, err.Error()), "status", value)
		}
		statuses = append(statuses, status)
	}
	if len(statuses) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one status is required")
	}
	records, err := r.records.ListByStatuses(ctx, statuses)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance by status")
	}
	return nonNilRecords(records), nil
}

// GetReopenRequest returns one reopen request.
func (r *RecordResolver) GetReopenRequest(ctx context.Context, id string) (*models.ReopenRequest, error) {
	req, err := r.reopens.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "reopen request not found", "failed to load reopen request")
	}
	return req, nil
}

// ListReopenRequests returns reopen requests matching query, newest first.
func (r *RecordResolver) ListReopenRequests(ctx context.Context, query dto.ReopenRequestQuery) ([]models.ReopenRequest, error) {
	for _, status := range query.Status {
		switch status {
		case models.ReopenStatusPending, models.ReopenStatusApproved, models.ReopenStatusRejected:
		default:
			return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid reopen status: %q", status)), "status", string(status))
		}
	}
	reqs, err := r.reopens.List(ctx, models.ReopenRequestFilter{
		AttendanceRecordID: strings.TrimSpace(query.AttendanceRecordID),
		Status:             query.Status,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reopen requests")
	}
	if reqs == nil {
		reqs = []models.ReopenRequest{}
	}
	return reqs, nil
}

// ListPendingReopenRequests returns every request awaiting a decision.
func (r *RecordResolver) ListPendingReopenRequests(ctx context.Context) ([]models.ReopenRequest, error) {
	return r.ListReopenRequests(ctx, dto.ReopenRequestQuery{Status: []models.ReopenStatus{models.ReopenStatusPending}})
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dto.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, appErrors.WithField(
			appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must use YYYY-MM-DD", field)),
			field, value,
		)
	}
	return t, nil
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

func nonNilRecords(records []models.AttendanceRecord) []models.AttendanceRecord {
	if records == nil {
		return []models.AttendanceRecord{}
	}
	return records
}
