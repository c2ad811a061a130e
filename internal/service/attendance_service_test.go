package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-attendance-api/internal/dto"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
)

var (
	teacher     = models.Actor{ID: "teacher-1", Role: models.RoleTeacher}
	coordinator = models.Actor{ID: "coord-1", Role: models.RoleAcademicCoordinator}
	leadership  = models.Actor{ID: "lead-1", Role: models.RoleLeadership}
)

func boolPtr(v bool) *bool { return &v }

func newTestAttendanceService(t *testing.T) (*AttendanceService, *memoryAttendanceStore, *fakeClock) {
	t.Helper()
	store := newMemoryAttendanceStore()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)}
	svc := NewAttendanceService(store,
		existsStub{"student-s": true},
		existsStub{"course-c": true},
		nil,
		WithAttendanceClock(clock.Now),
		WithAttendanceMetrics(NewMetricsService()),
	)
	return svc, store, clock
}

func createSample(t *testing.T, svc *AttendanceService) *models.AttendanceRecord {
	t.Helper()
	record, err := svc.Create(context.Background(), dto.CreateAttendanceRequest{
		StudentID:      "student-s",
		CourseID:       "course-c",
		AttendanceDate: "2025-01-10",
		IsPresent:      boolPtr(true),
	}, teacher)
	require.NoError(t, err)
	return record
}

func TestAttendanceServiceFullLifecycle(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()

	record := createSample(t, svc)
	assert.Equal(t, models.AttendanceStatusDraft, record.Status)
	assert.Equal(t, 0, record.Version)

	clock.Advance(time.Hour)
	submitted, err := svc.Submit(ctx, record.ID, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedBy)
	assert.Equal(t, teacher.ID, *submitted.SubmittedBy)

	_, err = svc.Approve(ctx, record.ID, coordinator)
	require.NoError(t, err)
	_, err = svc.Publish(ctx, record.ID, coordinator)
	require.NoError(t, err)
	locked, err := svc.Lock(ctx, record.ID, coordinator)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLocked, locked.Status)
	assert.Equal(t, models.AttendanceStatusLocked, store.record(record.ID).Status)

	trail := store.auditFor(record.ID)
	require.Len(t, trail, 5)
	expected := []struct {
		action   models.AuditAction
		previous models.AttendanceStatus
		next     models.AttendanceStatus
	}{
		{models.AuditActionCreated, "", models.AttendanceStatusDraft},
		{models.AuditActionSubmitted, models.AttendanceStatusDraft, models.AttendanceStatusSubmitted},
		{models.AuditActionApproved, models.AttendanceStatusSubmitted, models.AttendanceStatusApproved},
		{models.AuditActionPublished, models.AttendanceStatusApproved, models.AttendanceStatusPublished},
		{models.AuditActionLocked, models.AttendanceStatusPublished, models.AttendanceStatusLocked},
	}
	for i, want := range expected {
		assert.Equal(t, want.action, trail[i].Action)
		assert.Equal(t, want.next, trail[i].NewStatus)
		if want.previous == "" {
			assert.Nil(t, trail[i].PreviousStatus)
		} else {
			require.NotNil(t, trail[i].PreviousStatus)
			assert.Equal(t, want.previous, *trail[i].PreviousStatus)
		}
	}
	assert.Equal(t, "Attendance marked - Present: true", trail[0].Reason)
	assert.Equal(t, models.RoleAcademicCoordinator, trail[4].ActorRole)
}

func TestAttendanceServiceSubmitAfterDeadline(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)

	record := createSample(t, svc)
	clock.Advance(25 * time.Hour)

	_, err := svc.Submit(context.Background(), record.ID, teacher)
	require.Error(t, err)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Contains(t, err.Error(), "Submission deadline has passed (24 hours)")
	assert.Equal(t, models.AttendanceStatusDraft, store.record(record.ID).Status)
	assert.Len(t, store.auditFor(record.ID), 1)
}

func TestAttendanceServiceSubmissionDeadlineIsConfigurable(t *testing.T) {
	store := newMemoryAttendanceStore()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)}
	svc := NewAttendanceService(store, nil, nil, nil,
		WithAttendanceClock(clock.Now),
		WithSubmissionDeadline(48*time.Hour),
	)
	id := store.seed(models.AttendanceStatusDraft, clock.now)
	clock.Advance(30 * time.Hour)

	record, err := svc.Submit(context.Background(), id, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusSubmitted, record.Status)
}

func TestAttendanceServiceReopenApproveCycle(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()
	id := store.seed(models.AttendanceStatusApproved, clock.now)

	ok, err := svc.RequestReopen(ctx, id, "marked the wrong student", teacher)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.AttendanceStatusReopenRequested, store.record(id).Status)
	pending, found := store.pendingReopenFor(id)
	require.True(t, found)
	assert.Equal(t, "marked the wrong student", pending.Reason)
	assert.Equal(t, teacher.ID, pending.RequestedBy)

	clock.Advance(2 * time.Hour)
	record, err := svc.ApproveReopen(ctx, pending.ID, "go ahead", coordinator)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusDraft, record.Status)
	require.NotNil(t, record.ReopenedAt)

	resolved := store.reopenRequest(pending.ID)
	assert.Equal(t, models.ReopenStatusApproved, resolved.Status)
	require.NotNil(t, resolved.ApprovedBy)
	assert.Equal(t, coordinator.ID, *resolved.ApprovedBy)
	assert.Equal(t, "go ahead", resolved.ApprovalComments)

	trail := store.auditFor(id)
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditActionReopenRequested, trail[0].Action)
	assert.Equal(t, models.AttendanceStatusApproved, *trail[0].PreviousStatus)
	assert.Equal(t, models.AuditActionReopenApproved, trail[1].Action)
	assert.Equal(t, "Reopen approved. Comments: go ahead", trail[1].Reason)

	clock.Advance(time.Hour)
	submitted, err := svc.Submit(ctx, id, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusSubmitted, submitted.Status)
}

func TestAttendanceServiceReopenedDraftKeepsCreationDeadline(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()

	record := createSample(t, svc)
	clock.Advance(time.Hour)
	_, err := svc.Submit(ctx, record.ID, teacher)
	require.NoError(t, err)

	clock.Advance(72 * time.Hour)
	_, err = svc.RequestReopen(ctx, record.ID, "wrong remarks", teacher)
	require.NoError(t, err)
	pending, found := store.pendingReopenFor(record.ID)
	require.True(t, found)
	_, err = svc.ApproveReopen(ctx, pending.ID, "", coordinator)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.Submit(ctx, record.ID, teacher)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Contains(t, err.Error(), "Submission deadline has passed")
	assert.Equal(t, models.AttendanceStatusDraft, store.record(record.ID).Status)
}

func TestAttendanceServiceDeadlineRestartOnReopen(t *testing.T) {
	store := newMemoryAttendanceStore()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)}
	svc := NewAttendanceService(store, nil, nil, nil,
		WithAttendanceClock(clock.Now),
		WithDeadlineRestartOnReopen(true),
	)
	ctx := context.Background()
	id := store.seed(models.AttendanceStatusSubmitted, clock.now)

	clock.Advance(72 * time.Hour)
	_, err := svc.RequestReopen(ctx, id, "wrong remarks", teacher)
	require.NoError(t, err)
	pending, _ := store.pendingReopenFor(id)
	_, err = svc.ApproveReopen(ctx, pending.ID, "", coordinator)
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	record, err := svc.Submit(ctx, id, teacher)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusSubmitted, record.Status)
}

func TestAttendanceServiceReopenRejectRestoresPreviousStatus(t *testing.T) {
	for _, start := range []models.AttendanceStatus{models.AttendanceStatusSubmitted, models.AttendanceStatusApproved} {
		t.Run(string(start), func(t *testing.T) {
			svc, store, clock := newTestAttendanceService(t)
			ctx := context.Background()
			id := store.seed(start, clock.now)

			_, err := svc.RequestReopen(ctx, id, "typo in remarks", coordinator)
			require.NoError(t, err)
			pending, found := store.pendingReopenFor(id)
			require.True(t, found)

			record, err := svc.RejectReopen(ctx, pending.ID, "leave as is", coordinator)
			require.NoError(t, err)
			assert.Equal(t, start, record.Status)
			assert.Nil(t, record.ReopenedAt)
			assert.Equal(t, models.ReopenStatusRejected, store.reopenRequest(pending.ID).Status)

			trail := store.auditFor(id)
			require.Len(t, trail, 2)
			assert.Equal(t, models.AuditActionReopenRejected, trail[1].Action)
			assert.Equal(t, start, trail[1].NewStatus)

			_, err = svc.ApproveReopen(ctx, pending.ID, "", coordinator)
			require.ErrorIs(t, err, appErrors.ErrInvalidState)
		})
	}
}

func TestAttendanceServiceReopenGuards(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()

	draft := store.seed(models.AttendanceStatusDraft, clock.now)
	_, err := svc.RequestReopen(ctx, draft, "please", teacher)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	submitted := store.seed(models.AttendanceStatusSubmitted, clock.now)
	_, err = svc.RequestReopen(ctx, submitted, "   ", teacher)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.ApproveReopen(ctx, "reopen-missing", "", coordinator)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.RequestReopen(ctx, submitted, "wrong course", teacher)
	require.NoError(t, err)
	pending, _ := store.pendingReopenFor(submitted)

	_, err = svc.RequestReopen(ctx, submitted, "again", teacher)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = svc.ApproveReopen(ctx, pending.ID, "", teacher)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, models.ReopenStatusPending, store.reopenRequest(pending.ID).Status)
}

func TestAttendanceServiceApplyCorrection(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()
	id := store.seed(models.AttendanceStatusPublished, clock.now)
	original := store.record(id)

	correction, err := svc.ApplyCorrection(ctx, id, dto.ApplyCorrectionRequest{
		IsPresent: boolPtr(false),
		Remarks:   "left after first period",
		Reason:    "parent letter",
	}, coordinator)
	require.NoError(t, err)

	assert.Equal(t, models.AttendanceStatusCorrected, store.record(id).Status)
	assert.True(t, store.record(id).IsPresent)
	assert.Equal(t, 1, correction.Version)
	assert.Equal(t, models.AttendanceStatusDraft, correction.Status)
	assert.False(t, correction.IsPresent)
	require.NotNil(t, correction.ParentVersionID)
	assert.Equal(t, id, *correction.ParentVersionID)

	resolver := NewRecordResolver(store, nil, nil)
	versions, err := resolver.GetAllVersions(ctx, original.StudentID, original.CourseID, original.AttendanceDate.Format(dto.DateLayout))
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 0, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)

	originalTrail := store.auditFor(id)
	require.Len(t, originalTrail, 1)
	assert.Equal(t, models.AuditActionCorrected, originalTrail[0].Action)
	assert.Equal(t, "Correction applied. Reason: parent letter", originalTrail[0].Reason)
	assert.Equal(t, "IsPresent: true, Remarks: on time", originalTrail[0].PreviousValue)

	childTrail := store.auditFor(correction.ID)
	require.Len(t, childTrail, 1)
	assert.Equal(t, models.AuditActionCorrectionCreated, childTrail[0].Action)
	assert.Nil(t, childTrail[0].PreviousStatus)
	assert.Equal(t, "IsPresent: false, Remarks: left after first period", childTrail[0].NewValue)

	_, err = svc.Lock(ctx, id, coordinator)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	_, err = svc.ApplyCorrection(ctx, id, dto.ApplyCorrectionRequest{IsPresent: boolPtr(true), Reason: "again"}, coordinator)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestAttendanceServiceCreateRules(t *testing.T) {
	svc, store, _ := newTestAttendanceService(t)
	ctx := context.Background()
	createSample(t, svc)

	_, err := svc.Create(ctx, dto.CreateAttendanceRequest{
		StudentID: "student-s", CourseID: "course-c", AttendanceDate: "2025-01-10", IsPresent: boolPtr(false),
	}, teacher)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = svc.Create(ctx, dto.CreateAttendanceRequest{
		StudentID: "student-x", CourseID: "course-c", AttendanceDate: "2025-01-10", IsPresent: boolPtr(true),
	}, teacher)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Create(ctx, dto.CreateAttendanceRequest{
		StudentID: "student-s", CourseID: "course-c", AttendanceDate: "10/01/2025", IsPresent: boolPtr(true),
	}, teacher)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, dto.CreateAttendanceRequest{
		StudentID: "student-s", CourseID: "course-c", AttendanceDate: "2025-01-11", IsPresent: boolPtr(true),
	}, coordinator)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	assert.Equal(t, 1, store.auditCount())
}

func TestAttendanceServiceCreateAfterCorrectionRejected(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()
	record := createSample(t, svc)
	clock.Advance(time.Hour)
	_, err := svc.Submit(ctx, record.ID, teacher)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, record.ID, coordinator)
	require.NoError(t, err)
	_, err = svc.ApplyCorrection(ctx, record.ID, dto.ApplyCorrectionRequest{IsPresent: boolPtr(false), Reason: "sick note"}, coordinator)
	require.NoError(t, err)

	_, err = svc.Create(ctx, dto.CreateAttendanceRequest{
		StudentID: "student-s", CourseID: "course-c", AttendanceDate: "2025-01-10", IsPresent: boolPtr(true),
	}, teacher)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Len(t, store.filter(func(models.AttendanceRecord) bool { return true }), 2)
}

func TestAttendanceServiceUnauthorizedWritesNothing(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		status models.AttendanceStatus
		run    func(id string, actor models.Actor) error
		actors []models.Actor
	}{
		{"submit", models.AttendanceStatusDraft, func(id string, a models.Actor) error { _, err := svc.Submit(ctx, id, a); return err }, []models.Actor{coordinator, leadership}},
		{"approve", models.AttendanceStatusSubmitted, func(id string, a models.Actor) error { _, err := svc.Approve(ctx, id, a); return err }, []models.Actor{teacher, leadership}},
		{"publish", models.AttendanceStatusApproved, func(id string, a models.Actor) error { _, err := svc.Publish(ctx, id, a); return err }, []models.Actor{teacher, leadership}},
		{"lock", models.AttendanceStatusPublished, func(id string, a models.Actor) error { _, err := svc.Lock(ctx, id, a); return err }, []models.Actor{teacher, leadership}},
		{"request reopen", models.AttendanceStatusSubmitted, func(id string, a models.Actor) error { _, err := svc.RequestReopen(ctx, id, "why", a); return err }, []models.Actor{leadership}},
		{"apply correction", models.AttendanceStatusPublished, func(id string, a models.Actor) error {
			_, err := svc.ApplyCorrection(ctx, id, dto.ApplyCorrectionRequest{IsPresent: boolPtr(false), Reason: "x"}, a)
			return err
		}, []models.Actor{teacher, leadership}},
	}
	for _, tc := range cases {
		for _, actor := range tc.actors {
			t.Run(tc.name+"/"+string(actor.Role), func(t *testing.T) {
				id := store.seed(tc.status, clock.now)
				before := store.auditCount()
				err := tc.run(id, actor)
				require.ErrorIs(t, err, appErrors.ErrForbidden)
				assert.Equal(t, tc.status, store.record(id).Status)
				assert.Equal(t, before, store.auditCount())
			})
		}
	}

	id := store.seed(models.AttendanceStatusDraft, clock.now)
	_, err := svc.Submit(ctx, id, models.Actor{Role: models.RoleTeacher})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAttendanceServiceInvalidStateWritesNothing(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	ctx := context.Background()

	id := store.seed(models.AttendanceStatusDraft, clock.now)
	_, err := svc.Approve(ctx, id, coordinator)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	appErr := appErrors.FromError(err)
	assert.Equal(t, "DRAFT", appErr.Fields["current"])
	assert.Equal(t, "SUBMITTED", appErr.Fields["required"])

	for _, status := range []models.AttendanceStatus{models.AttendanceStatusLocked, models.AttendanceStatusCorrected, models.AttendanceStatusReopenRequested} {
		frozen := store.seed(status, clock.now)
		before := store.auditCount()
		_, err := svc.Submit(ctx, frozen, teacher)
		require.ErrorIs(t, err, appErrors.ErrInvalidState)
		_, err = svc.Publish(ctx, frozen, coordinator)
		require.ErrorIs(t, err, appErrors.ErrInvalidState)
		_, err = svc.RequestReopen(ctx, frozen, "please", teacher)
		require.ErrorIs(t, err, appErrors.ErrInvalidState)
		assert.Equal(t, status, store.record(frozen).Status)
		assert.Equal(t, before, store.auditCount())
	}

	_, err = svc.Submit(ctx, "rec-missing", teacher)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAttendanceServiceConcurrentWriteLoses(t *testing.T) {
	svc, store, clock := newTestAttendanceService(t)
	id := store.seed(models.AttendanceStatusDraft, clock.now)

	store.beforeUpdate = func(s *memoryAttendanceStore, tx *memoryTx, record *models.AttendanceRecord) {
		winner := tx.records[record.ID]
		winner.Status = models.AttendanceStatusSubmitted
		winner.RowVersion++
		tx.records[record.ID] = winner
		s.records[record.ID] = winner.Clone()
		s.beforeUpdate = nil
	}

	before := store.auditCount()
	_, err := svc.Submit(context.Background(), id, teacher)
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Equal(t, "SUBMITTED", appErrors.FromError(err).Fields["current"])
	assert.Equal(t, before, store.auditCount())
}

func TestAttendanceServiceLogsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := newMemoryAttendanceStore()
	clock := &fakeClock{now: time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)}
	svc := NewAttendanceService(store, nil, nil, zap.New(core), WithAttendanceClock(clock.Now))
	id := store.seed(models.AttendanceStatusDraft, clock.now)

	ctx := requestid.NewContext(context.Background(), "req-77")
	_, err := svc.Submit(ctx, id, teacher)
	require.NoError(t, err)

	entries := logs.FilterMessage("attendance transition applied").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-77", fields["request_id"])
	assert.Equal(t, id, fields["record_id"])
	assert.Equal(t, string(TransitionSubmit), fields["action"])
}
