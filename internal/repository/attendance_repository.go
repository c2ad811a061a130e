package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/database"
)

var (
	// ErrStaleRecord is returned when a conditional update matched no row
	// because another transaction moved the row first.
	ErrStaleRecord = errors.New("attendance row changed concurrently")
	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("duplicate attendance row")
)

const uniqueViolation = "23505"

const attendanceColumns = `id, student_id, course_id, attendance_date, status, is_present, remarks, version,
       parent_version_id, row_version, submitted_at, submitted_by, approved_at, approved_by,
       published_at, published_by, reopened_at, created_at, created_by, modified_at, modified_by`

const auditColumns = `id, attendance_record_id, action, previous_status, new_status, actor_id, actor_role,
       reason, previous_value, new_value, context_info, action_timestamp`

const reopenColumns = `id, attendance_record_id, reason, requested_by, requested_at, status,
       approved_by, approved_at, approval_comments`

// AttendanceTx is the set of writes and locked reads available inside one
// attendance unit of work. Every write lands in the same transaction.
type AttendanceTx interface {
	GetRecordForUpdate(ctx context.Context, id string) (*models.AttendanceRecord, error)
	FindActiveRecord(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error)
	InsertRecord(ctx context.Context, record *models.AttendanceRecord) error
	UpdateRecord(ctx context.Context, record *models.AttendanceRecord, expected models.AttendanceStatus) error
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
	LatestAudit(ctx context.Context, recordID string, action models.AuditAction) (*models.AuditLog, error)
	InsertReopenRequest(ctx context.Context, req *models.ReopenRequest) error
	FindPendingReopenRequest(ctx context.Context, recordID string) (*models.ReopenRequest, error)
	GetReopenRequestForUpdate(ctx context.Context, id string) (*models.ReopenRequest, error)
	ResolveReopenRequest(ctx context.Context, req *models.ReopenRequest) error
}

// AttendanceRepository persists attendance records and drives the unit of work.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// WithTx runs fn inside a single database transaction.
func (r *AttendanceRepository) WithTx(ctx context.Context, fn func(tx AttendanceTx) error) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&attendanceTx{tx: tx})
	})
}

// GetByID fetches a record by identifier.
func (r *AttendanceRepository) GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE id = $1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return &record, nil
}

// GetCurrent returns the root record (no parent) of a (student, course, date) group.
func (r *AttendanceRepository) GetCurrent(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE student_id = $1 AND course_id = $2 AND attendance_date = $3 AND parent_version_id IS NULL
	ORDER BY version DESC LIMIT 1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, courseID, models.DateOnly(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get current attendance: %w", err)
	}
	return &record, nil
}

// GetLatestVersion returns the highest version of a group regardless of parent.
func (r *AttendanceRepository) GetLatestVersion(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE student_id = $1 AND course_id = $2 AND attendance_date = $3
	ORDER BY version DESC LIMIT 1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, courseID, models.DateOnly(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get latest attendance version: %w", err)
	}
	return &record, nil
}

// ListVersions returns every version of a group ordered by version ascending.
func (r *AttendanceRepository) ListVersions(ctx context.Context, studentID, courseID string, date time.Time) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE student_id = $1 AND course_id = $2 AND attendance_date = $3
	ORDER BY version ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, courseID, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("list attendance versions: %w", err)
	}
	return records, nil
}

// ListChildren returns the versions created directly from parentID.
func (r *AttendanceRepository) ListChildren(ctx context.Context, parentID string) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE parent_version_id = $1 ORDER BY version ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, parentID); err != nil {
		return nil, fmt.Errorf("list child versions: %w", err)
	}
	return records, nil
}

// ListByStudentRange returns root records of a student between from and to inclusive.
func (r *AttendanceRepository) ListByStudentRange(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE student_id = $1 AND attendance_date BETWEEN $2 AND $3 AND parent_version_id IS NULL
	ORDER BY attendance_date ASC, course_id ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, models.DateOnly(from), models.DateOnly(to)); err != nil {
		return nil, fmt.Errorf("list attendance by student range: %w", err)
	}
	return records, nil
}

// ListByCourseDate returns root records of a course on one date.
func (r *AttendanceRepository) ListByCourseDate(ctx context.Context, courseID string, date time.Time) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE course_id = $1 AND attendance_date = $2 AND parent_version_id IS NULL
	ORDER BY student_id ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, courseID, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("list attendance by course date: %w", err)
	}
	return records, nil
}

// ListByStatuses spans every version, newest first.
func (r *AttendanceRepository) ListByStatuses(ctx context.Context, statuses []models.AttendanceStatus) ([]models.AttendanceRecord, error) {
	if len(statuses) == 0 {
		return []models.AttendanceRecord{}, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE status = ANY($1) ORDER BY created_at DESC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, pq.Array(values)); err != nil {
		return nil, fmt.Errorf("list attendance by status: %w", err)
	}
	return records, nil
}

type attendanceTx struct {
	tx *sqlx.Tx
}

func (t *attendanceTx) GetRecordForUpdate(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE id = $1 FOR UPDATE`
	var record models.AttendanceRecord
	if err := t.tx.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock attendance record: %w", err)
	}
	return &record, nil
}

func (t *attendanceTx) FindActiveRecord(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records
	WHERE student_id = $1 AND course_id = $2 AND attendance_date = $3 AND status <> $4
	ORDER BY version DESC LIMIT 1 FOR UPDATE`
	var record models.AttendanceRecord
	if err := t.tx.GetContext(ctx, &record, query, studentID, courseID, models.DateOnly(date), models.AttendanceStatusCorrected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find active attendance: %w", err)
	}
	return &record, nil
}

func (t *attendanceTx) InsertRecord(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RowVersion == 0 {
		record.RowVersion = 1
	}
	const query = `INSERT INTO attendance_records
	(id, student_id, course_id, attendance_date, status, is_present, remarks, version, parent_version_id, row_version,
	 submitted_at, submitted_by, approved_at, approved_by, published_at, published_by, reopened_at,
	 created_at, created_by, modified_at, modified_by)
	VALUES (:id, :student_id, :course_id, :attendance_date, :status, :is_present, :remarks, :version, :parent_version_id, :row_version,
	 :submitted_at, :submitted_by, :approved_at, :approved_by, :published_at, :published_by, :reopened_at,
	 :created_at, :created_by, :modified_at, :modified_by)`
	if _, err := t.tx.NamedExecContext(ctx, query, record); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// UpdateRecord writes the mutable columns only when the row still carries
// the expected status and row version. The presence, remarks and identity
// columns are never part of the SET list.
func (t *attendanceTx) UpdateRecord(ctx context.Context, record *models.AttendanceRecord, expected models.AttendanceStatus) error {
	const query = `UPDATE attendance_records SET
	status = :status, submitted_at = :submitted_at, submitted_by = :submitted_by,
	approved_at = :approved_at, approved_by = :approved_by, published_at = :published_at,
	published_by = :published_by, reopened_at = :reopened_at, modified_at = :modified_at,
	modified_by = :modified_by, row_version = row_version + 1
	WHERE id = :id AND status = :expected_status AND row_version = :row_version`
	result, err := t.tx.NamedExecContext(ctx, query, map[string]interface{}{
		"id":              record.ID,
		"status":          record.Status,
		"submitted_at":    record.SubmittedAt,
		"submitted_by":    record.SubmittedBy,
		"approved_at":     record.ApprovedAt,
		"approved_by":     record.ApprovedBy,
		"published_at":    record.PublishedAt,
		"published_by":    record.PublishedBy,
		"reopened_at":     record.ReopenedAt,
		"modified_at":     record.ModifiedAt,
		"modified_by":     record.ModifiedBy,
		"expected_status": expected,
		"row_version":     record.RowVersion,
	})
	if err != nil {
		return fmt.Errorf("update attendance record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check attendance update rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleRecord
	}
	record.RowVersion++
	return nil
}

func (t *attendanceTx) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ActionTimestamp.IsZero() {
		entry.ActionTimestamp = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_audit_logs
	(id, attendance_record_id, action, previous_status, new_status, actor_id, actor_role, reason,
	 previous_value, new_value, context_info, action_timestamp)
	VALUES (:id, :attendance_record_id, :action, :previous_status, :new_status, :actor_id, :actor_role, :reason,
	 :previous_value, :new_value, :context_info, :action_timestamp)`
	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (t *attendanceTx) LatestAudit(ctx context.Context, recordID string, action models.AuditAction) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM attendance_audit_logs
	WHERE attendance_record_id = $1 AND action = $2
	ORDER BY action_timestamp DESC, seq DESC LIMIT 1`
	var entry models.AuditLog
	if err := t.tx.GetContext(ctx, &entry, query, recordID, action); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("latest audit log: %w", err)
	}
	return &entry, nil
}

func (t *attendanceTx) InsertReopenRequest(ctx context.Context, req *models.ReopenRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ReopenStatusPending
	}
	const query = `INSERT INTO attendance_reopen_requests
	(id, attendance_record_id, reason, requested_by, requested_at, status, approved_by, approved_at, approval_comments)
	VALUES (:id, :attendance_record_id, :reason, :requested_by, :requested_at, :status, :approved_by, :approved_at, :approval_comments)`
	if _, err := t.tx.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert reopen request: %w", err)
	}
	return nil
}

func (t *attendanceTx) FindPendingReopenRequest(ctx context.Context, recordID string) (*models.ReopenRequest, error) {
	query := `SELECT ` + reopenColumns + ` FROM attendance_reopen_requests
	WHERE attendance_record_id = $1 AND status = $2 LIMIT 1`
	var req models.ReopenRequest
	if err := t.tx.GetContext(ctx, &req, query, recordID, models.ReopenStatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find pending reopen request: %w", err)
	}
	return &req, nil
}

func (t *attendanceTx) GetReopenRequestForUpdate(ctx context.Context, id string) (*models.ReopenRequest, error) {
	query := `SELECT ` + reopenColumns + ` FROM attendance_reopen_requests WHERE id = $1 FOR UPDATE`
	var req models.ReopenRequest
	if err := t.tx.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock reopen request: %w", err)
	}
	return &req, nil
}

func (t *attendanceTx) ResolveReopenRequest(ctx context.Context, req *models.ReopenRequest) error {
	query := fmt.Sprintf(`UPDATE attendance_reopen_requests SET
	status = :status, approved_by = :approved_by, approved_at = :approved_at, approval_comments = :approval_comments
	WHERE id = :id AND status = '%s'`, models.ReopenStatusPending)
	result, err := t.tx.NamedExecContext(ctx, query, req)
	if err != nil {
		return fmt.Errorf("resolve reopen request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check reopen update rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleRecord
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
