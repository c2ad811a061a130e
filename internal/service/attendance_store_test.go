package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/repository"
)

// memoryAttendanceStore is a copy-on-write store: each WithTx works on a
// private copy that replaces the committed state only when fn succeeds.
type memoryAttendanceStore struct {
	mu           sync.Mutex
	records      map[string]models.AttendanceRecord
	audits       []models.AuditLog
	reopens      map[string]models.ReopenRequest
	seq          int
	beforeUpdate func(store *memoryAttendanceStore, tx *memoryTx, record *models.AttendanceRecord)
}

func newMemoryAttendanceStore() *memoryAttendanceStore {
	return &memoryAttendanceStore{
		records: make(map[string]models.AttendanceRecord),
		reopens: make(map[string]models.ReopenRequest),
	}
}

func (m *memoryAttendanceStore) WithTx(ctx context.Context, fn func(tx repository.AttendanceTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{
		store:   m,
		records: make(map[string]models.AttendanceRecord, len(m.records)),
		audits:  append([]models.AuditLog(nil), m.audits...),
		reopens: make(map[string]models.ReopenRequest, len(m.reopens)),
	}
	for k, v := range m.records {
		tx.records[k] = v.Clone()
	}
	for k, v := range m.reopens {
		tx.reopens[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.records = tx.records
	m.audits = tx.audits
	m.reopens = tx.reopens
	return nil
}

func (m *memoryAttendanceStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryAttendanceStore) record(id string) models.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Clone()
}

func (m *memoryAttendanceStore) auditFor(recordID string) []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditLog, 0)
	for _, entry := range m.audits {
		if entry.AttendanceRecordID == recordID {
			out = append(out, entry)
		}
	}
	return out
}

func (m *memoryAttendanceStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audits)
}

func (m *memoryAttendanceStore) reopenRequest(id string) models.ReopenRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reopens[id]
}

func (m *memoryAttendanceStore) pendingReopenFor(recordID string) (models.ReopenRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.reopens {
		if req.AttendanceRecordID == recordID && req.Status == models.ReopenStatusPending {
			return req, true
		}
	}
	return models.ReopenRequest{}, false
}

// seed stores a record directly in status, bypassing the workflow.
func (m *memoryAttendanceStore) seed(status models.AttendanceStatus, createdAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("rec")
	m.records[id] = models.AttendanceRecord{
		ID:             id,
		StudentID:      "student-" + id,
		CourseID:       "course-1",
		AttendanceDate: models.DateOnly(createdAt),
		Status:         status,
		IsPresent:      true,
		Remarks:        "on time",
		RowVersion:     1,
		CreatedAt:      createdAt,
		CreatedBy:      "teacher-1",
		ModifiedAt:     createdAt,
		ModifiedBy:     "teacher-1",
	}
	return id
}

func (m *memoryAttendanceStore) GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := record.Clone()
	return &clone, nil
}

func (m *memoryAttendanceStore) filter(keep func(models.AttendanceRecord) bool) []models.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AttendanceRecord, 0)
	for _, record := range m.records {
		if keep(record) {
			out = append(out, record.Clone())
		}
	}
	return out
}

func sameGroup(record models.AttendanceRecord, studentID, courseID string, date time.Time) bool {
	return record.StudentID == studentID && record.CourseID == courseID && record.AttendanceDate.Equal(models.DateOnly(date))
}

func (m *memoryAttendanceStore) GetCurrent(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	roots := m.filter(func(r models.AttendanceRecord) bool {
		return sameGroup(r, studentID, courseID, date) && r.ParentVersionID == nil
	})
	if len(roots) == 0 {
		return nil, sql.ErrNoRows
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Version > roots[j].Version })
	return &roots[0], nil
}

func (m *memoryAttendanceStore) GetLatestVersion(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	versions, _ := m.ListVersions(ctx, studentID, courseID, date)
	if len(versions) == 0 {
		return nil, sql.ErrNoRows
	}
	return &versions[len(versions)-1], nil
}

func (m *memoryAttendanceStore) ListVersions(ctx context.Context, studentID, courseID string, date time.Time) ([]models.AttendanceRecord, error) {
	versions := m.filter(func(r models.AttendanceRecord) bool { return sameGroup(r, studentID, courseID, date) })
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (m *memoryAttendanceStore) ListChildren(ctx context.Context, parentID string) ([]models.AttendanceRecord, error) {
	children := m.filter(func(r models.AttendanceRecord) bool {
		return r.ParentVersionID != nil && *r.ParentVersionID == parentID
	})
	sort.Slice(children, func(i, j int) bool { return children[i].Version < children[j].Version })
	return children, nil
}

func (m *memoryAttendanceStore) ListByStudentRange(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	out := m.filter(func(r models.AttendanceRecord) bool {
		return r.StudentID == studentID && r.ParentVersionID == nil &&
			!r.AttendanceDate.Before(models.DateOnly(from)) && !r.AttendanceDate.After(models.DateOnly(to))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AttendanceDate.Before(out[j].AttendanceDate) })
	return out, nil
}

func (m *memoryAttendanceStore) ListByCourseDate(ctx context.Context, courseID string, date time.Time) ([]models.AttendanceRecord, error) {
	out := m.filter(func(r models.AttendanceRecord) bool {
		return r.CourseID == courseID && r.ParentVersionID == nil && r.AttendanceDate.Equal(models.DateOnly(date))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *memoryAttendanceStore) ListByStatuses(ctx context.Context, statuses []models.AttendanceStatus) ([]models.AttendanceRecord, error) {
	wanted := make(map[models.AttendanceStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	out := m.filter(func(r models.AttendanceRecord) bool { return wanted[r.Status] })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memoryTx struct {
	store   *memoryAttendanceStore
	records map[string]models.AttendanceRecord
	audits  []models.AuditLog
	reopens map[string]models.ReopenRequest
}

func (t *memoryTx) GetRecordForUpdate(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	record, ok := t.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := record.Clone()
	return &clone, nil
}

func (t *memoryTx) FindActiveRecord(ctx context.Context, studentID, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	var found *models.AttendanceRecord
	for _, record := range t.records {
		if !sameGroup(record, studentID, courseID, date) || record.Status == models.AttendanceStatusCorrected {
			continue
		}
		if found == nil || record.Version > found.Version {
			clone := record.Clone()
			found = &clone
		}
	}
	if found == nil {
		return nil, sql.ErrNoRows
	}
	return found, nil
}

func (t *memoryTx) InsertRecord(ctx context.Context, record *models.AttendanceRecord) error {
	for _, existing := range t.records {
		if sameGroup(existing, record.StudentID, record.CourseID, record.AttendanceDate) && existing.Version == record.Version {
			return repository.ErrDuplicate
		}
	}
	if record.ID == "" {
		record.ID = t.store.nextID("rec")
	}
	if record.RowVersion == 0 {
		record.RowVersion = 1
	}
	t.records[record.ID] = record.Clone()
	return nil
}

func (t *memoryTx) UpdateRecord(ctx context.Context, record *models.AttendanceRecord, expected models.AttendanceStatus) error {
	if t.store.beforeUpdate != nil {
		t.store.beforeUpdate(t.store, t, record)
	}
	stored, ok := t.records[record.ID]
	if !ok || stored.Status != expected || stored.RowVersion != record.RowVersion {
		return repository.ErrStaleRecord
	}
	record.RowVersion++
	updated := record.Clone()
	updated.IsPresent = stored.IsPresent
	updated.Remarks = stored.Remarks
	t.records[record.ID] = updated
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = t.store.nextID("audit")
	}
	t.audits = append(t.audits, *entry)
	return nil
}

func (t *memoryTx) LatestAudit(ctx context.Context, recordID string, action models.AuditAction) (*models.AuditLog, error) {
	for i := len(t.audits) - 1; i >= 0; i-- {
		if t.audits[i].AttendanceRecordID == recordID && t.audits[i].Action == action {
			entry := t.audits[i]
			return &entry, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memoryTx) InsertReopenRequest(ctx context.Context, req *models.ReopenRequest) error {
	for _, existing := range t.reopens {
		if existing.AttendanceRecordID == req.AttendanceRecordID && existing.Status == models.ReopenStatusPending {
			return repository.ErrDuplicate
		}
	}
	if req.ID == "" {
		req.ID = t.store.nextID("reopen")
	}
	t.reopens[req.ID] = *req
	return nil
}

func (t *memoryTx) FindPendingReopenRequest(ctx context.Context, recordID string) (*models.ReopenRequest, error) {
	for _, req := range t.reopens {
		if req.AttendanceRecordID == recordID && req.Status == models.ReopenStatusPending {
			found := req
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memoryTx) GetReopenRequestForUpdate(ctx context.Context, id string) (*models.ReopenRequest, error) {
	req, ok := t.reopens[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (t *memoryTx) ResolveReopenRequest(ctx context.Context, req *models.ReopenRequest) error {
	stored, ok := t.reopens[req.ID]
	if !ok || stored.Status != models.ReopenStatusPending {
		return repository.ErrStaleRecord
	}
	t.reopens[req.ID] = *req
	return nil
}

type existsStub map[string]bool

func (e existsStub) Exists(ctx context.Context, id string) (bool, error) {
	return e[id], nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
