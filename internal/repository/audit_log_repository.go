package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

// AuditLogRepository reads the attendance ledger. Entries are written only
// through AttendanceTx.AppendAudit and can never be changed afterwards.
type AuditLogRepository struct {
	db *sqlx.DB
}

// NewAuditLogRepository constructs the repository.
func NewAuditLogRepository(db *sqlx.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// List returns ledger entries matching the filter. Record-scoped queries are
// ordered oldest first, everything else newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT ` + auditColumns + ` FROM attendance_audit_logs`)

	conditions := make([]string, 0, 5)
	if filter.AttendanceRecordID != "" {
		args = append(args, filter.AttendanceRecordID)
		conditions = append(conditions, fmt.Sprintf("attendance_record_id = $%d", len(args)))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("action_timestamp >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("action_timestamp <= $%d", len(args)))
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, action := range filter.Actions {
			args = append(args, action)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	if filter.AttendanceRecordID != "" {
		builder.WriteString(" ORDER BY action_timestamp ASC, seq ASC")
	} else {
		builder.WriteString(" ORDER BY action_timestamp DESC, seq DESC")
	}

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// Update always fails: ledger entries are immutable.
func (r *AuditLogRepository) Update(ctx context.Context, entry *models.AuditLog) error {
	return appErrors.Clone(appErrors.ErrInvariantViolation, "audit log entries cannot be updated")
}

// Delete always fails: ledger entries are immutable.
func (r *AuditLogRepository) Delete(ctx context.Context, id string) error {
	return appErrors.Clone(appErrors.ErrInvariantViolation, "audit log entries cannot be deleted")
}
