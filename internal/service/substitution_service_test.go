package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyahub/school-api/internal/models"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
)

type mockSubstitutionRepo struct {
	mu     sync.Mutex
	subs   map[string]models.SubstitutionAssignment
	nextID int
}

func newMockSubstitutionRepo() *mockSubstitutionRepo {
	return &mockSubstitutionRepo{subs: make(map[string]models.SubstitutionAssignment)}
}

func (m *mockSubstitutionRepo) Create(ctx context.Context, sub *models.SubstitutionAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		m.nextID++
		sub.ID = fmt.Sprintf("sub-%d", m.nextID)
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *mockSubstitutionRepo) FindByID(ctx context.Context, id string) (*models.SubstitutionAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		return &sub, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubstitutionRepo) FindActiveByAssignmentDate(ctx context.Context, assignmentID string, date time.Time) (*models.SubstitutionAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.TeachingAssignmentID == assignmentID && sub.Date.Equal(date) && sub.Active {
			return &sub, nil
		}
	}
	return nil, nil
}

func (m *mockSubstitutionRepo) ListByDate(ctx context.Context, schoolID string, date time.Time) ([]models.SubstitutionAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SubstitutionAssignment
	for _, sub := range m.subs {
		if sub.SchoolID == schoolID && sub.Date.Equal(date) && sub.Active {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *mockSubstitutionRepo) ListBySection(ctx context.Context, schoolID, sectionID string) ([]models.SubstitutionAssignment, error) {
	return nil, nil
}

func (m *mockSubstitutionRepo) BusySubstituteIDs(ctx context.Context, schoolID string, date time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var ids []string
	for _, sub := range m.subs {
		if sub.SchoolID != schoolID || !sub.Date.Equal(date) || !sub.Active {
			continue
		}
		if _, ok := seen[sub.SubstituteTeacherID]; ok {
			continue
		}
		seen[sub.SubstituteTeacherID] = struct{}{}
		ids = append(ids, sub.SubstituteTeacherID)
	}
	return ids, nil
}

func (m *mockSubstitutionRepo) SetActive(ctx context.Context, id string, active bool) (*models.SubstitutionAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	sub.Active = active
	m.subs[id] = sub
	return &sub, nil
}

type mockAssignmentLookup struct {
	assignments map[string]models.TeachingAssignment
}

func (m *mockAssignmentLookup) FindByID(ctx context.Context, id string) (*models.TeachingAssignment, error) {
	if assignment, ok := m.assignments[id]; ok {
		return &assignment, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentLookup) List(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, int, error) {
	var out []models.TeachingAssignment
	for _, assignment := range m.assignments {
		if assignment.SchoolID != filter.SchoolID {
			continue
		}
		if filter.SectionID != "" && assignment.SectionID != filter.SectionID {
			continue
		}
		if filter.Active != nil && assignment.Active != *filter.Active {
			continue
		}
		out = append(out, assignment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type mockTeacherLookup struct {
	teachers map[string]models.Teacher
}

func (m *mockTeacherLookup) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if teacher, ok := m.teachers[id]; ok {
		return &teacher, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTeacherLookup) ListActiveBySchool(ctx context.Context, schoolID string) ([]models.Teacher, error) {
	var out []models.Teacher
	for _, teacher := range m.teachers {
		if teacher.SchoolID == schoolID && teacher.Active {
			out = append(out, teacher)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type mockSectionLookup struct {
	sections map[string]models.Section
}

func (m *mockSectionLookup) FindByID(ctx context.Context, id string) (*models.Section, error) {
	if section, ok := m.sections[id]; ok {
		return &section, nil
	}
	return nil, sql.ErrNoRows
}

type mockClassLookup struct {
	classes map[string]models.Class
}

func (m *mockClassLookup) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if class, ok := m.classes[id]; ok {
		return &class, nil
	}
	return nil, sql.ErrNoRows
}

type mockTimetableLookup struct {
	slots []models.TimetableSlot
}

func (m *mockTimetableLookup) ListByDay(ctx context.Context, schoolID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	var out []models.TimetableSlot
	for _, slot := range m.slots {
		if slot.SchoolID == schoolID && slot.DayOfWeek == dayOfWeek {
			out = append(out, slot)
		}
	}
	return out, nil
}

func teacherFixture(id string, roles []string, ranges models.GradeRanges) models.Teacher {
	return models.Teacher{
		ID:              id,
		SchoolID:        "school-1",
		Username:        id,
		Email:           id + "@school.test",
		FullName:        "Teacher " + id,
		Roles:           pq.StringArray(roles),
		TeachableGrades: ranges,
		Active:          true,
	}
}

type substitutionFixture struct {
	repo        *mockSubstitutionRepo
	assignments *mockAssignmentLookup
	teachers    *mockTeacherLookup
	timetable   *mockTimetableLookup
	svc         *SubstitutionService
}

func newSubstitutionFixture(strict bool) *substitutionFixture {
	repo := newMockSubstitutionRepo()
	assignments := &mockAssignmentLookup{assignments: map[string]models.TeachingAssignment{
		"ta-1": {
			ID:           "ta-1",
			SchoolID:     "school-1",
			AcademicYear: "2025-26",
			SectionID:    "sec-1",
			SubjectID:    "sub-math",
			TeacherID:    "t-absent",
			Active:       true,
		},
	}}
	teachers := &mockTeacherLookup{teachers: map[string]models.Teacher{
		"t-absent": teacherFixture("t-absent", []string{"subject_teacher"}, nil),
		"t-cover":  teacherFixture("t-cover", []string{"substitute_teacher"}, models.GradeRanges{{From: 6, To: 12}}),
	}}
	sections := &mockSectionLookup{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", SchoolID: "school-1", ClassID: "class-8", Name: "A"},
	}}
	classes := &mockClassLookup{classes: map[string]models.Class{
		"class-8": {ID: "class-8", SchoolID: "school-1", Name: "VIII", GradeLevel: 8},
	}}
	timetable := &mockTimetableLookup{}
	svc := NewSubstitutionService(repo, assignments, teachers, sections, classes, timetable, nil, nil, nil, strict)
	return &substitutionFixture{repo: repo, assignments: assignments, teachers: teachers, timetable: timetable, svc: svc}
}

func assignRequest() AssignSubstituteRequest {
	return AssignSubstituteRequest{
		TeachingAssignmentID: "ta-1",
		Date:                 "2026-09-07",
		SubstituteTeacherID:  "t-cover",
		AssignedByID:         "admin-1",
	}
}

func TestAssignSubstitute(t *testing.T) {
	f := newSubstitutionFixture(false)

	sub, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)
	assert.Equal(t, "t-absent", sub.AbsentTeacherID)
	assert.Equal(t, "t-cover", sub.SubstituteTeacherID)
	assert.Equal(t, "2025-26", sub.AcademicYear)
	assert.True(t, sub.Active)
}

func TestAssignSubstituteDuplicateDateRejected(t *testing.T) {
	f := newSubstitutionFixture(false)

	_, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)

	_, err = f.svc.Assign(context.Background(), assignRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
}

func TestAssignSubstituteSameAssignmentOtherDateAllowed(t *testing.T) {
	f := newSubstitutionFixture(false)

	_, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)

	req := assignRequest()
	req.Date = "2026-09-08"
	_, err = f.svc.Assign(context.Background(), req)
	assert.NoError(t, err)
}

func TestAssignSubstituteConcurrentOnlyOneWins(t *testing.T) {
	f := newSubstitutionFixture(false)

	const attempts = 12
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Assign(context.Background(), assignRequest())
			results[i] = err
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		if appErrors.FromError(err).Code == appErrors.ErrDuplicate.Code {
			duplicates++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, duplicates)
}

func TestAssignSubstituteRejectsAbsentTeacher(t *testing.T) {
	f := newSubstitutionFixture(false)

	req := assignRequest()
	req.SubstituteTeacherID = "t-absent"
	_, err := f.svc.Assign(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignSubstituteRejectsIneligibleGrade(t *testing.T) {
	f := newSubstitutionFixture(false)
	// Covers grades 1-5 only; the section is grade 8.
	f.teachers.teachers["t-junior"] = teacherFixture("t-junior", []string{"substitute_teacher"}, models.GradeRanges{{From: 1, To: 5}})

	req := assignRequest()
	req.SubstituteTeacherID = "t-junior"
	_, err := f.svc.Assign(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignSubstituteAllowsUndeclaredGrades(t *testing.T) {
	f := newSubstitutionFixture(false)
	// No declared grade ranges means no grade restriction.
	f.teachers.teachers["t-any"] = teacherFixture("t-any", []string{"substitute_teacher"}, nil)

	req := assignRequest()
	req.SubstituteTeacherID = "t-any"
	_, err := f.svc.Assign(context.Background(), req)
	assert.NoError(t, err)
}

func TestAssignSubstituteRejectsInactiveAssignment(t *testing.T) {
	f := newSubstitutionFixture(false)
	assignment := f.assignments.assignments["ta-1"]
	assignment.Active = false
	f.assignments.assignments["ta-1"] = assignment

	_, err := f.svc.Assign(context.Background(), assignRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAvailableSubstitutesExcludesBusy(t *testing.T) {
	f := newSubstitutionFixture(false)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("t-%d", i)
		f.teachers.teachers[id] = teacherFixture(id, []string{"subject_teacher"}, nil)
	}
	date := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	for _, busy := range []string{"t-1", "t-2"} {
		require.NoError(t, f.repo.Create(context.Background(), &models.SubstitutionAssignment{
			SchoolID:             "school-1",
			TeachingAssignmentID: "ta-" + busy,
			Date:                 date,
			SubstituteTeacherID:  busy,
			Active:               true,
		}))
	}

	available, err := f.svc.AvailableSubstitutes(context.Background(), AvailableSubstitutesQuery{
		SchoolID: "school-1",
		Date:     date,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(available))
	for _, teacher := range available {
		ids = append(ids, teacher.ID)
	}
	assert.NotContains(t, ids, "t-1")
	assert.NotContains(t, ids, "t-2")
	assert.Contains(t, ids, "t-3")
	assert.Contains(t, ids, "t-4")
	assert.Contains(t, ids, "t-5")
}

func mondaySlot(id, sectionID, teacherID string, start, end int) models.TimetableSlot {
	return models.TimetableSlot{
		ID:          id,
		SchoolID:    "school-1",
		SectionID:   sectionID,
		SubjectID:   "sub-math",
		TeacherID:   teacherID,
		DayOfWeek:   1,
		StartMinute: start,
		EndMinute:   end,
	}
}

func TestAvailableSubstitutesStrictScreensOwnLessons(t *testing.T) {
	f := newSubstitutionFixture(true)
	f.teachers.teachers["t-busy"] = teacherFixture("t-busy", []string{"subject_teacher"}, nil)
	f.teachers.teachers["t-later"] = teacherFixture("t-later", []string{"subject_teacher"}, nil)
	f.timetable.slots = []models.TimetableSlot{
		// The period needing cover: t-absent teaches sec-1 Monday 9:00-9:40.
		mondaySlot("slot-absent", "sec-1", "t-absent", 540, 580),
		mondaySlot("slot-busy", "sec-2", "t-busy", 560, 600),
		mondaySlot("slot-later", "sec-3", "t-later", 600, 640),
	}

	// 2026-09-07 is a Monday.
	available, err := f.svc.AvailableSubstitutes(context.Background(), AvailableSubstitutesQuery{
		SchoolID:             "school-1",
		Date:                 time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		Strict:               true,
		TeachingAssignmentID: "ta-1",
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(available))
	for _, teacher := range available {
		ids = append(ids, teacher.ID)
	}
	// t-busy clashes with the covered period; t-later's own lesson starts
	// after it ends, so they stay available.
	assert.NotContains(t, ids, "t-busy")
	assert.Contains(t, ids, "t-later")
	assert.Contains(t, ids, "t-cover")
}

func TestAvailableSubstitutesStrictWithoutTarget(t *testing.T) {
	f := newSubstitutionFixture(true)
	f.teachers.teachers["t-later"] = teacherFixture("t-later", []string{"subject_teacher"}, nil)
	f.timetable.slots = []models.TimetableSlot{
		mondaySlot("slot-later", "sec-3", "t-later", 600, 640),
	}

	// Without a target assignment the conflicting period is unknown, so
	// any own lesson that day disqualifies.
	available, err := f.svc.AvailableSubstitutes(context.Background(), AvailableSubstitutesQuery{
		SchoolID: "school-1",
		Date:     time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		Strict:   true,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(available))
	for _, teacher := range available {
		ids = append(ids, teacher.ID)
	}
	assert.NotContains(t, ids, "t-later")
	assert.Contains(t, ids, "t-cover")
}

func TestAvailableSubstitutesLooseIgnoresSchedule(t *testing.T) {
	f := newSubstitutionFixture(false)
	f.teachers.teachers["t-busy"] = teacherFixture("t-busy", []string{"subject_teacher"}, nil)
	f.timetable.slots = []models.TimetableSlot{
		mondaySlot("slot-busy", "sec-2", "t-busy", 540, 580),
	}

	available, err := f.svc.AvailableSubstitutes(context.Background(), AvailableSubstitutesQuery{
		SchoolID: "school-1",
		Date:     time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(available))
	for _, teacher := range available {
		ids = append(ids, teacher.ID)
	}
	assert.Contains(t, ids, "t-busy")
}

func TestAvailableSubstitutesGradeFilter(t *testing.T) {
	f := newSubstitutionFixture(false)
	f.teachers.teachers["t-junior"] = teacherFixture("t-junior", []string{"subject_teacher"}, models.GradeRanges{{From: 1, To: 5}})

	available, err := f.svc.AvailableSubstitutes(context.Background(), AvailableSubstitutesQuery{
		SchoolID: "school-1",
		Date:     time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		Grade:    8,
	})
	require.NoError(t, err)

	for _, teacher := range available {
		assert.NotEqual(t, "t-junior", teacher.ID)
	}
}

func TestDeactivateSubstitutionIsIdempotent(t *testing.T) {
	f := newSubstitutionFixture(false)
	sub, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)

	first, err := f.svc.Deactivate(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, first.Active)

	second, err := f.svc.Deactivate(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, second.Active)
}

func TestSetActiveReactivatesFreedDate(t *testing.T) {
	f := newSubstitutionFixture(false)
	sub, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)

	_, err = f.svc.Deactivate(context.Background(), sub.ID)
	require.NoError(t, err)

	restored, err := f.svc.SetActive(context.Background(), sub.ID, true)
	require.NoError(t, err)
	assert.True(t, restored.Active)
}

func TestSetActiveRejectsSecondActiveCover(t *testing.T) {
	f := newSubstitutionFixture(false)
	f.teachers.teachers["t-other"] = teacherFixture("t-other", []string{"substitute_teacher"}, nil)

	first, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)
	_, err = f.svc.Deactivate(context.Background(), first.ID)
	require.NoError(t, err)

	// A replacement cover now holds the date.
	req := assignRequest()
	req.SubstituteTeacherID = "t-other"
	_, err = f.svc.Assign(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.SetActive(context.Background(), first.ID, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)

	// The failed toggle leaves the record inactive.
	second, err := f.svc.SetActive(context.Background(), first.ID, false)
	require.NoError(t, err)
	assert.False(t, second.Active)
}

func TestDeactivateThenReassignSameDate(t *testing.T) {
	f := newSubstitutionFixture(false)
	sub, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)

	_, err = f.svc.Deactivate(context.Background(), sub.ID)
	require.NoError(t, err)

	// The one-active invariant only counts active rows; a reverted
	// substitution leaves the date free again.
	_, err = f.svc.Assign(context.Background(), assignRequest())
	assert.NoError(t, err)
}

func TestEffectiveForSectionDateAppliesOverride(t *testing.T) {
	f := newSubstitutionFixture(false)
	date := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Assign(context.Background(), assignRequest())
	require.NoError(t, err)

	lessons, err := f.svc.EffectiveForSectionDate(context.Background(), "school-1", "sec-1", date)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "t-cover", lessons[0].EffectiveTeacherID)
	require.NotNil(t, lessons[0].Substitution)

	// A date without substitutions resolves to the teacher of record.
	otherDay, err := f.svc.EffectiveForSectionDate(context.Background(), "school-1", "sec-1", date.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, otherDay, 1)
	assert.Equal(t, "t-absent", otherDay[0].EffectiveTeacherID)
	assert.Nil(t, otherDay[0].Substitution)
}
