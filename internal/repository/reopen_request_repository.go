package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// ReopenRequestRepository reads reopen requests. Writes go through AttendanceTx.
type ReopenRequestRepository struct {
	db *sqlx.DB
}

// NewReopenRequestRepository constructs the repository.
func NewReopenRequestRepository(db *sqlx.DB) *ReopenRequestRepository {
	return &ReopenRequestRepository{db: db}
}

// GetByID fetches a reopen request.
func (r *ReopenRequestRepository) GetByID(ctx context.Context, id string) (*models.ReopenRequest, error) {
	query := `SELECT ` + reopenColumns + ` FROM attendance_reopen_requests WHERE id = $1`
	var req models.ReopenRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get reopen request: %w", err)
	}
	return &req, nil
}

// List returns reopen requests matching the filter (latest first).
func (r *ReopenRequestRepository) List(ctx context.Context, filter models.ReopenRequestFilter) ([]models.ReopenRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + reopenColumns + ` FROM attendance_reopen_requests`)

	conditions := make([]string, 0, 2)
	if filter.AttendanceRecordID != "" {
		args = append(args, filter.AttendanceRecordID)
		conditions = append(conditions, fmt.Sprintf("attendance_record_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY requested_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var reqs []models.ReopenRequest
	if err := r.db.SelectContext(ctx, &reqs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list reopen requests: %w", err)
	}
	return reqs, nil
}
