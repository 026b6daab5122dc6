package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/internal/repository"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
	"github.com/vidyahub/school-api/pkg/lock"
)

type substitutionRepository interface {
	Create(ctx context.Context, sub *models.SubstitutionAssignment) error
	FindByID(ctx context.Context, id string) (*models.SubstitutionAssignment, error)
	FindActiveByAssignmentDate(ctx context.Context, assignmentID string, date time.Time) (*models.SubstitutionAssignment, error)
	ListByDate(ctx context.Context, schoolID string, date time.Time) ([]models.SubstitutionAssignment, error)
	ListBySection(ctx context.Context, schoolID, sectionID string) ([]models.SubstitutionAssignment, error)
	BusySubstituteIDs(ctx context.Context, schoolID string, date time.Time) ([]string, error)
	SetActive(ctx context.Context, id string, active bool) (*models.SubstitutionAssignment, error)
}

type substitutionAssignmentLookup interface {
	FindByID(ctx context.Context, id string) (*models.TeachingAssignment, error)
	List(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, int, error)
}

type substitutionTeacherLookup interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	ListActiveBySchool(ctx context.Context, schoolID string) ([]models.Teacher, error)
}

type substitutionSectionLookup interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type substitutionTimetableLookup interface {
	ListByDay(ctx context.Context, schoolID string, dayOfWeek int) ([]models.TimetableSlot, error)
}

type substitutionClassLookup interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// AssignSubstituteRequest covers one assignment with a substitute for a day.
type AssignSubstituteRequest struct {
	TeachingAssignmentID string  `json:"teaching_assignment_id" validate:"required"`
	Date                 string  `json:"date" validate:"required,datetime=2006-01-02"`
	SubstituteTeacherID  string  `json:"substitute_teacher_id" validate:"required"`
	AssignedByID         string  `json:"assigned_by_id" validate:"required"`
	Reason               *string `json:"reason,omitempty"`
}

// AvailableSubstitutesQuery narrows the candidate pool for a date.
type AvailableSubstitutesQuery struct {
	SchoolID string
	Date     time.Time
	// Grade filters candidates to those whose teachable grade ranges cover
	// it. Zero means no grade filter.
	Grade int
	// Strict screens candidates against the weekly timetable: a teacher
	// with a regular class of their own during a period that needs cover
	// is dropped. Loose mode ignores the timetable entirely.
	Strict bool
	// TeachingAssignmentID narrows strict screening to the periods of one
	// assignment. Empty means any own lesson on the date's weekday
	// disqualifies.
	TeachingAssignmentID string
}

// EffectiveLesson is a teaching assignment with any substitution applied for
// one date.
type EffectiveLesson struct {
	Assignment         models.TeachingAssignment      `json:"assignment"`
	EffectiveTeacherID string                         `json:"effective_teacher_id"`
	Substitution       *models.SubstitutionAssignment `json:"substitution,omitempty"`
}

// SubstitutionService manages dated teacher overrides.
type SubstitutionService struct {
	repo        substitutionRepository
	assignments substitutionAssignmentLookup
	teachers    substitutionTeacherLookup
	sections    substitutionSectionLookup
	classes     substitutionClassLookup
	timetable   substitutionTimetableLookup
	locker      lock.Locker
	validator   *validator.Validate
	logger      *zap.Logger
	strict      bool
}

// NewSubstitutionService instantiates SubstitutionService. strictDefault sets
// the availability mode used when a query does not specify one.
func NewSubstitutionService(repo substitutionRepository, assignments substitutionAssignmentLookup, teachers substitutionTeacherLookup, sections substitutionSectionLookup, classes substitutionClassLookup, timetable substitutionTimetableLookup, locker lock.Locker, validate *validator.Validate, logger *zap.Logger, strictDefault bool) *SubstitutionService {
	if locker == nil {
		locker = lock.NewKeyMutex()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubstitutionService{
		repo:        repo,
		assignments: assignments,
		teachers:    teachers,
		sections:    sections,
		classes:     classes,
		timetable:   timetable,
		locker:      locker,
		validator:   validate,
		logger:      logger,
		strict:      strictDefault,
	}
}

// StrictDefault reports the configured availability mode.
func (s *SubstitutionService) StrictDefault() bool {
	return s.strict
}

// Assign records a substitute for one assignment and date. The
// (assignment, date) pair is held under lock across the existence check and
// the insert; the partial unique index backstops other writers.
func (s *SubstitutionService) Assign(ctx context.Context, req AssignSubstituteRequest) (*models.SubstitutionAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid substitution payload")
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}

	assignment, err := s.assignments.FindByID(ctx, req.TeachingAssignmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
	}
	if !assignment.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teaching assignment is inactive")
	}

	substitute, err := s.teachers.FindByID(ctx, req.SubstituteTeacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "substitute teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load substitute teacher")
	}
	if !substitute.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitute teacher is inactive")
	}
	if substitute.SchoolID != assignment.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitute teacher belongs to a different school")
	}
	if substitute.ID == assignment.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitute cannot be the absent teacher")
	}
	if !substitute.HasTeachingRole() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitute teacher has no teaching role")
	}
	if err := s.checkGradeEligibility(ctx, substitute, assignment.SectionID); err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("sub:%s:%s", assignment.ID, date.Format("2006-01-02"))
	release, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire substitution lock")
	}
	defer release()

	existing, err := s.repo.FindActiveByAssignmentDate(ctx, assignment.ID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing substitution")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "assignment already has an active substitution for this date")
	}

	sub := models.SubstitutionAssignment{
		SchoolID:             assignment.SchoolID,
		AcademicYear:         assignment.AcademicYear,
		TeachingAssignmentID: assignment.ID,
		Date:                 date,
		AbsentTeacherID:      assignment.TeacherID,
		SubstituteTeacherID:  substitute.ID,
		AssignedByID:         req.AssignedByID,
		Reason:               req.Reason,
		Active:               true,
	}
	if err := s.repo.Create(ctx, &sub); err != nil {
		if errors.Is(err, repository.ErrSubstitutionExists) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "assignment already has an active substitution for this date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create substitution")
	}

	s.logger.Info("substitute assigned",
		zap.String("teaching_assignment_id", assignment.ID),
		zap.String("substitute_teacher_id", substitute.ID),
		zap.String("date", date.Format("2006-01-02")),
	)
	return &sub, nil
}

// Deactivate reverts a substitution. Deactivating an already inactive record
// is a no-op returning the current state.
func (s *SubstitutionService) Deactivate(ctx context.Context, id string) (*models.SubstitutionAssignment, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "substitution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load substitution")
	}
	if !sub.Active {
		return sub, nil
	}
	updated, err := s.repo.SetActive(ctx, id, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate substitution")
	}
	return updated, nil
}

// SetActive toggles a substitution's is_active flag. Reactivating re-checks
// the one-active-per-assignment-and-date rule under the same lock Assign
// takes, so flipping a record back on can never create a second active cover.
func (s *SubstitutionService) SetActive(ctx context.Context, id string, active bool) (*models.SubstitutionAssignment, error) {
	if !active {
		return s.Deactivate(ctx, id)
	}

	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "substitution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load substitution")
	}
	if sub.Active {
		return sub, nil
	}

	lockKey := fmt.Sprintf("sub:%s:%s", sub.TeachingAssignmentID, sub.Date.Format("2006-01-02"))
	release, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire substitution lock")
	}
	defer release()

	existing, err := s.repo.FindActiveByAssignmentDate(ctx, sub.TeachingAssignmentID, sub.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing substitution")
	}
	if existing != nil && existing.ID != sub.ID {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "assignment already has an active substitution for this date")
	}

	updated, err := s.repo.SetActive(ctx, id, true)
	if err != nil {
		if errors.Is(err, repository.ErrSubstitutionExists) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "assignment already has an active substitution for this date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate substitution")
	}
	return updated, nil
}

// ListByDate returns a school's active substitutions on a date.
func (s *SubstitutionService) ListByDate(ctx context.Context, schoolID string, date time.Time) ([]models.SubstitutionAssignment, error) {
	subs, err := s.repo.ListByDate(ctx, schoolID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list substitutions")
	}
	return subs, nil
}

// ListBySection returns active substitutions touching a section.
func (s *SubstitutionService) ListBySection(ctx context.Context, schoolID, sectionID string) ([]models.SubstitutionAssignment, error) {
	subs, err := s.repo.ListBySection(ctx, schoolID, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list substitutions")
	}
	return subs, nil
}

// AvailableSubstitutes lists the school's active teachers not already
// substituting on the date. Absent teachers with their own substitution that
// day are not excluded here; a teacher can be absent one period and cover
// another.
func (s *SubstitutionService) AvailableSubstitutes(ctx context.Context, q AvailableSubstitutesQuery) ([]models.Teacher, error) {
	if q.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "school_id is required")
	}
	if q.Date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date is required")
	}

	teachers, err := s.teachers.ListActiveBySchool(ctx, q.SchoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	busyIDs, err := s.repo.BusySubstituteIDs(ctx, q.SchoolID, q.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list busy substitutes")
	}
	busy := make(map[string]struct{}, len(busyIDs))
	for _, id := range busyIDs {
		busy[id] = struct{}{}
	}

	var ownSlots map[string][]models.TimetableSlot
	var covered []models.TimetableSlot
	if q.Strict {
		day := isoWeekday(q.Date)
		slots, err := s.timetable.ListByDay(ctx, q.SchoolID, day)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load day timetable")
		}
		ownSlots = make(map[string][]models.TimetableSlot, len(slots))
		for _, slot := range slots {
			ownSlots[slot.TeacherID] = append(ownSlots[slot.TeacherID], slot)
		}
		if q.TeachingAssignmentID != "" {
			assignment, err := s.assignments.FindByID(ctx, q.TeachingAssignmentID)
			if err != nil {
				if err == sql.ErrNoRows {
					return nil, appErrors.Clone(appErrors.ErrNotFound, "teaching assignment not found")
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching assignment")
			}
			if assignment.SchoolID != q.SchoolID {
				return nil, appErrors.Clone(appErrors.ErrValidation, "teaching assignment belongs to a different school")
			}
			for _, slot := range ownSlots[assignment.TeacherID] {
				if slot.SectionID == assignment.SectionID {
					covered = append(covered, slot)
				}
			}
		}
	}

	available := make([]models.Teacher, 0, len(teachers))
	for _, teacher := range teachers {
		if _, taken := busy[teacher.ID]; taken {
			continue
		}
		if !teacher.HasTeachingRole() {
			continue
		}
		if q.Grade > 0 && !teacher.TeachableGrades.Covers(q.Grade) {
			continue
		}
		if q.Strict && scheduleBlocked(ownSlots[teacher.ID], covered, q.TeachingAssignmentID != "") {
			continue
		}
		available = append(available, teacher)
	}
	return available, nil
}

// scheduleBlocked reports whether a candidate's own weekly lessons rule them
// out. When the periods needing cover are known, only an overlap with one of
// them blocks; without a target assignment any own lesson on the day does.
func scheduleBlocked(own, covered []models.TimetableSlot, hasTarget bool) bool {
	if !hasTarget {
		return len(own) > 0
	}
	for _, lesson := range own {
		for _, period := range covered {
			if lesson.Overlaps(period) {
				return true
			}
		}
	}
	return false
}

// isoWeekday maps a date onto the Monday=1..Sunday=7 numbering slots use.
func isoWeekday(date time.Time) int {
	if day := int(date.Weekday()); day != 0 {
		return day
	}
	return 7
}

// EffectiveForSectionDate resolves who actually teaches each of the section's
// assignments on a date, applying active substitutions.
func (s *SubstitutionService) EffectiveForSectionDate(ctx context.Context, schoolID, sectionID string, date time.Time) ([]EffectiveLesson, error) {
	active := true
	assignments, _, err := s.assignments.List(ctx, models.TeachingAssignmentFilter{
		SchoolID:  schoolID,
		SectionID: sectionID,
		Active:    &active,
		PageSize:  100,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teaching assignments")
	}
	subs, err := s.repo.ListByDate(ctx, schoolID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list substitutions")
	}
	byAssignment := make(map[string]*models.SubstitutionAssignment, len(subs))
	for i := range subs {
		byAssignment[subs[i].TeachingAssignmentID] = &subs[i]
	}

	lessons := make([]EffectiveLesson, 0, len(assignments))
	for _, assignment := range assignments {
		lesson := EffectiveLesson{Assignment: assignment, EffectiveTeacherID: assignment.TeacherID}
		if sub, ok := byAssignment[assignment.ID]; ok {
			lesson.EffectiveTeacherID = sub.SubstituteTeacherID
			lesson.Substitution = sub
		}
		lessons = append(lessons, lesson)
	}
	return lessons, nil
}

// checkGradeEligibility rejects substitutes whose teachable grade ranges do
// not cover the section's grade level. Teachers with no declared ranges are
// not restricted.
func (s *SubstitutionService) checkGradeEligibility(ctx context.Context, teacher *models.Teacher, sectionID string) error {
	if len(teacher.TeachableGrades) == 0 {
		return nil
	}
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	class, err := s.classes.FindByID(ctx, section.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !teacher.TeachableGrades.Covers(class.GradeLevel) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("substitute teacher cannot teach grade %d", class.GradeLevel))
	}
	return nil
}
