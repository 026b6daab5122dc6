package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyahub/school-api/internal/models"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
)

type mockTimetableRepo struct {
	mu      sync.Mutex
	slots   map[string]models.TimetableSlot
	nextID  int
	created int
}

func newMockTimetableRepo(seed ...models.TimetableSlot) *mockTimetableRepo {
	repo := &mockTimetableRepo{slots: make(map[string]models.TimetableSlot)}
	for _, slot := range seed {
		repo.slots[slot.ID] = slot
	}
	return repo
}

func (m *mockTimetableRepo) List(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableSlot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TimetableSlot
	for _, slot := range m.slots {
		if slot.SchoolID != filter.SchoolID {
			continue
		}
		if filter.SectionID != "" && slot.SectionID != filter.SectionID {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out, len(out), nil
}

func (m *mockTimetableRepo) FindByID(ctx context.Context, id string) (*models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot, ok := m.slots[id]; ok {
		return &slot, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTimetableRepo) FindBySectionDay(ctx context.Context, schoolID, sectionID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TimetableSlot
	for _, slot := range m.slots {
		if slot.SchoolID == schoolID && slot.SectionID == sectionID && slot.DayOfWeek == dayOfWeek {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (m *mockTimetableRepo) FindByTeacherDay(ctx context.Context, schoolID, teacherID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TimetableSlot
	for _, slot := range m.slots {
		if slot.SchoolID == schoolID && slot.TeacherID == teacherID && slot.DayOfWeek == dayOfWeek {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (m *mockTimetableRepo) FindSectionOverlap(ctx context.Context, schoolID, sectionID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	return m.findOverlap(schoolID, dayOfWeek, startMinute, endMinute, excludeID, func(slot models.TimetableSlot) bool {
		return slot.SectionID == sectionID
	})
}

func (m *mockTimetableRepo) FindTeacherOverlap(ctx context.Context, schoolID, teacherID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	return m.findOverlap(schoolID, dayOfWeek, startMinute, endMinute, excludeID, func(slot models.TimetableSlot) bool {
		return slot.TeacherID == teacherID
	})
}

func (m *mockTimetableRepo) findOverlap(schoolID string, dayOfWeek, startMinute, endMinute int, excludeID string, match func(models.TimetableSlot) bool) (*models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []models.TimetableSlot
	for _, slot := range m.slots {
		if slot.SchoolID != schoolID || slot.DayOfWeek != dayOfWeek || !match(slot) {
			continue
		}
		if excludeID != "" && slot.ID == excludeID {
			continue
		}
		if slot.StartMinute < endMinute && startMinute < slot.EndMinute {
			hits = append(hits, slot)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].StartMinute < hits[j].StartMinute })
	return &hits[0], nil
}

func (m *mockTimetableRepo) Create(ctx context.Context, slot *models.TimetableSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.ID == "" {
		m.nextID++
		slot.ID = fmt.Sprintf("slot-%d", m.nextID)
	}
	m.slots[slot.ID] = *slot
	m.created++
	return nil
}

func (m *mockTimetableRepo) Update(ctx context.Context, slot *models.TimetableSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[slot.ID]; !ok {
		return errors.New("no rows affected")
	}
	m.slots[slot.ID] = *slot
	return nil
}

func (m *mockTimetableRepo) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return false, nil
	}
	delete(m.slots, id)
	return true, nil
}

func slotFixture(id, sectionID, teacherID string, day, start, end int) models.TimetableSlot {
	return models.TimetableSlot{
		ID:          id,
		SchoolID:    "school-1",
		SectionID:   sectionID,
		SubjectID:   "sub-math",
		TeacherID:   teacherID,
		DayOfWeek:   day,
		StartMinute: start,
		EndMinute:   end,
	}
}

func createRequest(sectionID, teacherID string, day, start, end int) CreateTimetableSlotRequest {
	return CreateTimetableSlotRequest{
		SchoolID:    "school-1",
		SectionID:   sectionID,
		SubjectID:   "sub-math",
		TeacherID:   teacherID,
		DayOfWeek:   day,
		StartMinute: start,
		EndMinute:   end,
	}
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func conflictKind(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	var domainErr *models.SlotConflictError
	require.True(t, errors.As(err, &domainErr))
	// The serializable error carries the conflict for the response body.
	require.Equal(t, domainErr.Conflict, appErr.Details)
	return domainErr.Conflict.Kind
}

func TestTimetableCreateDetectsSectionConflict(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Different teacher, same section, overlapping window.
	_, err := svc.Create(context.Background(), createRequest("sec-1", "t-2", 2, 560, 600))
	assert.Equal(t, models.ConflictKindSection, conflictKind(t, err))
}

func TestTimetableCreateDetectsTeacherConflict(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Same teacher covering a different section at an overlapping time.
	_, err := svc.Create(context.Background(), createRequest("sec-2", "t-1", 2, 560, 600))
	assert.Equal(t, models.ConflictKindTeacher, conflictKind(t, err))
}

func TestTimetableCreateSectionConflictWinsOverTeacher(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Both dimensions collide; the section conflict is the one reported.
	_, err := svc.Create(context.Background(), createRequest("sec-1", "t-1", 2, 560, 600))
	assert.Equal(t, models.ConflictKindSection, conflictKind(t, err))
}

func TestTimetableCreateAllowsTouchingIntervals(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Half-open intervals: a lesson starting exactly when the previous one
	// ends is not a conflict.
	slot, err := svc.Create(context.Background(), createRequest("sec-1", "t-1", 2, 580, 620))
	require.NoError(t, err)
	assert.Equal(t, 580, slot.StartMinute)
}

func TestTimetableCreateAllowsDifferentDays(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), createRequest("sec-1", "t-1", 3, 540, 580))
	assert.NoError(t, err)
}

func TestTimetableCreateValidatesWindow(t *testing.T) {
	repo := newMockTimetableRepo()
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	cases := []CreateTimetableSlotRequest{
		createRequest("sec-1", "t-1", 8, 540, 580),   // day out of range
		createRequest("sec-1", "t-1", 0, 540, 580),   // day out of range
		createRequest("sec-1", "t-1", 2, 600, 600),   // empty window
		createRequest("sec-1", "t-1", 2, 620, 600),   // inverted window
		createRequest("sec-1", "t-1", 2, 540, 1500),  // past midnight
		createRequest("sec-1", "t-1", 2, -10, 60),    // negative start
	}
	for _, req := range cases {
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
	assert.Zero(t, repo.created)
}

func TestTimetableUpdateIgnoresOwnRow(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Shifting a slot within its own window must not conflict with itself.
	updated, err := svc.Update(context.Background(), "slot-1", UpdateTimetableSlotRequest{
		SubjectID:   strPtr("sub-phy"),
		StartMinute: intPtr(550),
		EndMinute:   intPtr(590),
	})
	require.NoError(t, err)
	assert.Equal(t, 550, updated.StartMinute)
	assert.Equal(t, "sub-phy", updated.SubjectID)
	// Untouched fields keep their stored values.
	assert.Equal(t, "sec-1", updated.SectionID)
	assert.Equal(t, 2, updated.DayOfWeek)
}

func TestTimetableUpdateRejectsInvertedWindow(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Moving only the start past the stored end inverts the merged window.
	_, err := svc.Update(context.Background(), "slot-1", UpdateTimetableSlotRequest{
		StartMinute: intPtr(600),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	stored, findErr := repo.FindByID(context.Background(), "slot-1")
	require.NoError(t, findErr)
	assert.Equal(t, 540, stored.StartMinute)
}

func TestTimetableUpdateConflictLeavesSlotUntouched(t *testing.T) {
	repo := newMockTimetableRepo(
		slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580),
		slotFixture("slot-2", "sec-1", "t-2", 2, 600, 640),
	)
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	_, err := svc.Update(context.Background(), "slot-2", UpdateTimetableSlotRequest{
		StartMinute: intPtr(560),
		EndMinute:   intPtr(620),
	})
	assert.Equal(t, models.ConflictKindSection, conflictKind(t, err))

	stored, findErr := repo.FindByID(context.Background(), "slot-2")
	require.NoError(t, findErr)
	assert.Equal(t, 600, stored.StartMinute)
	assert.Equal(t, 640, stored.EndMinute)
}

func TestTimetableUpdateMissingSlot(t *testing.T) {
	svc := NewTimetableService(newMockTimetableRepo(), nil, nil, nil, nil, nil)
	_, err := svc.Update(context.Background(), "nope", UpdateTimetableSlotRequest{
		TeacherID: strPtr("t-1"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTimetableDeleteMissingSlotIsNoOp(t *testing.T) {
	svc := NewTimetableService(newMockTimetableRepo(), nil, nil, nil, nil, nil)
	assert.NoError(t, svc.Delete(context.Background(), "nope"))
}

func TestTimetableDeleteIsIdempotent(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "slot-1"))
	assert.NoError(t, svc.Delete(context.Background(), "slot-1"))
}

func TestTimetableCheckSlotReportsConflictWithoutPersisting(t *testing.T) {
	repo := newMockTimetableRepo(slotFixture("slot-1", "sec-1", "t-1", 2, 540, 580))
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	conflict, err := svc.CheckSlot(context.Background(), createRequest("sec-1", "t-2", 2, 560, 600))
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.ConflictKindSection, conflict.Kind)
	assert.Equal(t, "slot-1", conflict.ConflictingSlotID)
	assert.Zero(t, repo.created)

	clear, err := svc.CheckSlot(context.Background(), createRequest("sec-1", "t-2", 2, 580, 620))
	require.NoError(t, err)
	assert.Nil(t, clear)
}

func TestTimetableConcurrentCreatesSerialize(t *testing.T) {
	repo := newMockTimetableRepo()
	svc := NewTimetableService(repo, nil, nil, nil, nil, nil)

	// Many goroutines race to book the same window; the per-key locks must
	// let exactly one through.
	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(context.Background(), createRequest("sec-1", "t-1", 2, 540, 580))
			results[i] = err
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		if appErrors.FromError(err).Code == appErrors.ErrConflict.Code {
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, repo.created)
}
