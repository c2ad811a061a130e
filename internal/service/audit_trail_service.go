package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/export"
)

type auditReader interface {
	List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, error)
}

type recordLookup interface {
	GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
}

type actorNamer interface {
	DisplayName(ctx context.Context, actorID string) string
}

type auditRenderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset, title string) ([]byte, error)
}

var auditExportHeaders = []string{"Timestamp", "Action", "Previous Status", "New Status", "Actor", "Role", "Reason", "Previous Value", "New Value"}

// AuditTrailService reads the attendance ledger and enriches entries with
// actor display names.
type AuditTrailService struct {
	audit     auditReader
	records   recordLookup
	actors    actorNamer
	renderers map[dto.AuditExportFormat]auditRenderer
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAuditTrailService constructs the service with CSV and PDF renderers.
func NewAuditTrailService(audit auditReader, records recordLookup, actors actorNamer, metrics *MetricsService, logger *zap.Logger) *AuditTrailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrailService{
		audit:   audit,
		records: records,
		actors:  actors,
		renderers: map[dto.AuditExportFormat]auditRenderer{
			dto.AuditExportCSV: export.NewCSVExporter(),
			dto.AuditExportPDF: export.NewPDFExporter(),
		},
		metrics: metrics,
		logger:  logger,
	}
}

// GetAuditTrail returns the ledger of one record oldest first.
func (s *AuditTrailService) GetAuditTrail(ctx context.Context, recordID string) ([]models.AuditTrailEntry, error) {
	if _, err := s.records.GetByID(ctx, recordID); err != nil {
		return nil, notFoundOr(err, "attendance record not found", "failed to load attendance")
	}
	return s.list(ctx, models.AuditLogFilter{AttendanceRecordID: recordID})
}

// ListByActor returns every entry written by actorID, newest first.
func (s *AuditTrailService) ListByActor(ctx context.Context, actorID string) ([]models.AuditTrailEntry, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actorId is required")
	}
	return s.list(ctx, models.AuditLogFilter{ActorID: actorID})
}

// ListByDateRange returns entries written between two dates inclusive, newest
// first, optionally narrowed to some actions.
func (s *AuditTrailService) ListByDateRange(ctx context.Context, from, to string, actions ...string) ([]models.AuditTrailEntry, error) {
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
	endOfDay := end.Add(24*time.Hour - time.Nanosecond)
	filter := models.AuditLogFilter{From: &start, To: &endOfDay}
	for _, raw := range actions {
		action, err := models.ParseAuditAction(raw)
		if err != nil {
			return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, err.Error()), "action", raw)
		}
		filter.Actions = append(filter.Actions, action)
	}
	return s.list(ctx, filter)
}

// Export renders the audit trail of a record as CSV or PDF.
func (s *AuditTrailService) Export(ctx context.Context, recordID string, format dto.AuditExportFormat) (*dto.AuditExport, error) {
	if format == "" {
		format = dto.AuditExportCSV
	}
	renderer, ok := s.renderers[dto.AuditExportFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"), "format", string(format))
	}
	entries, err := s.GetAuditTrail(ctx, recordID)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{Headers: auditExportHeaders}
	for _, entry := range entries {
		previous := ""
		if entry.PreviousStatus != nil {
			previous = string(*entry.PreviousStatus)
		}
		data.Append(map[string]string{
			"Timestamp":       entry.ActionTimestamp.UTC().Format(time.RFC3339),
			"Action":          string(entry.Action),
			"Previous Status": previous,
			"New Status":      string(entry.NewStatus),
			"Actor":           entry.ActorName,
			"Role":            string(entry.ActorRole),
			"Reason":          entry.Reason,
			"Previous Value":  entry.PreviousValue,
			"New Value":       entry.NewValue,
		})
	}
	body, err := renderer.Render(data, fmt.Sprintf("Attendance audit trail %s", recordID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit trail")
	}
	s.metrics.ObserveAuditExport(renderer.Extension())
	return &dto.AuditExport{
		Filename:    fmt.Sprintf("attendance-%s-audit.%s", recordID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *AuditTrailService) list(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditTrailEntry, error) {
	logs, err := s.audit.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	names := make(map[string]string)
	entries := make([]models.AuditTrailEntry, 0, len(logs))
	for _, log := range logs {
		name, ok := names[log.ActorID]
		if !ok {
			name = s.displayName(ctx, log.ActorID)
			names[log.ActorID] = name
		}
		entries = append(entries, models.AuditTrailEntry{AuditLog: log, ActorName: name})
	}
	return entries, nil
}

func (s *AuditTrailService) displayName(ctx context.Context, actorID string) string {
	if s.actors == nil {
		return UnknownActorName
	}
	return s.actors.DisplayName(ctx, actorID)
}
