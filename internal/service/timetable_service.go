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
	appErrors "github.com/vidyahub/school-api/pkg/errors"
	"github.com/vidyahub/school-api/pkg/lock"
)

type timetableRepository interface {
	List(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableSlot, int, error)
	FindByID(ctx context.Context, id string) (*models.TimetableSlot, error)
	FindBySectionDay(ctx context.Context, schoolID, sectionID string, dayOfWeek int) ([]models.TimetableSlot, error)
	FindByTeacherDay(ctx context.Context, schoolID, teacherID string, dayOfWeek int) ([]models.TimetableSlot, error)
	FindSectionOverlap(ctx context.Context, schoolID, sectionID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error)
	FindTeacherOverlap(ctx context.Context, schoolID, teacherID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error)
	Create(ctx context.Context, slot *models.TimetableSlot) error
	Update(ctx context.Context, slot *models.TimetableSlot) error
	Delete(ctx context.Context, id string) (bool, error)
}

// CreateTimetableSlotRequest describes the payload for booking a weekly slot.
// Minutes are counted from midnight; the slot occupies [start_minute,
// end_minute).
type CreateTimetableSlotRequest struct {
	SchoolID    string `json:"school_id" validate:"required"`
	SectionID   string `json:"section_id" validate:"required"`
	SubjectID   string `json:"subject_id" validate:"required"`
	TeacherID   string `json:"teacher_id" validate:"required"`
	DayOfWeek   int    `json:"day_of_week" validate:"required,min=1,max=7"`
	StartMinute int    `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"end_minute" validate:"required,min=1,max=1440,gtfield=StartMinute"`
}

// UpdateTimetableSlotRequest carries a partial edit of a slot. Omitted fields
// keep their stored values. The merged slot is checked as a whole, so a
// failed update never moves the slot.
type UpdateTimetableSlotRequest struct {
	SectionID   *string `json:"section_id" validate:"omitempty,min=1"`
	SubjectID   *string `json:"subject_id" validate:"omitempty,min=1"`
	TeacherID   *string `json:"teacher_id" validate:"omitempty,min=1"`
	DayOfWeek   *int    `json:"day_of_week" validate:"omitempty,min=1,max=7"`
	StartMinute *int    `json:"start_minute" validate:"omitempty,min=0,max=1439"`
	EndMinute   *int    `json:"end_minute" validate:"omitempty,min=1,max=1440"`
}

// TimetableService owns slot booking and the conflict checks behind it.
type TimetableService struct {
	repo      timetableRepository
	locker    lock.Locker
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTimetableService instantiates TimetableService.
func NewTimetableService(repo timetableRepository, locker lock.Locker, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if locker == nil {
		locker = lock.NewKeyMutex()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{repo: repo, locker: locker, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// List returns slots with pagination metadata.
func (s *TimetableService) List(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableSlot, *models.Pagination, error) {
	slots, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetable slots")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 100
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return slots, pagination, nil
}

// Get fetches a single slot.
func (s *TimetableService) Get(ctx context.Context, id string) (*models.TimetableSlot, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slot")
	}
	return slot, nil
}

// SectionDay returns the section's lessons for one weekday, cached per view.
func (s *TimetableService) SectionDay(ctx context.Context, schoolID, sectionID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "day_of_week must be between 1 and 7")
	}
	key := fmt.Sprintf("timetable:%s:section:%s:day:%d", schoolID, sectionID, dayOfWeek)
	var cached []models.TimetableSlot
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	slots, err := s.repo.FindBySectionDay(ctx, schoolID, sectionID, dayOfWeek)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section timetable")
	}
	_ = s.cache.Set(ctx, key, slots, 0)
	return slots, nil
}

// TeacherDay returns the teacher's lessons for one weekday, cached per view.
func (s *TimetableService) TeacherDay(ctx context.Context, schoolID, teacherID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "day_of_week must be between 1 and 7")
	}
	key := fmt.Sprintf("timetable:%s:teacher:%s:day:%d", schoolID, teacherID, dayOfWeek)
	var cached []models.TimetableSlot
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	slots, err := s.repo.FindByTeacherDay(ctx, schoolID, teacherID, dayOfWeek)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher timetable")
	}
	_ = s.cache.Set(ctx, key, slots, 0)
	return slots, nil
}

// Create books a slot after checking both conflict dimensions under lock.
func (s *TimetableService) Create(ctx context.Context, req CreateTimetableSlotRequest) (*models.TimetableSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable slot payload")
	}

	slot := models.TimetableSlot{
		SchoolID:    req.SchoolID,
		SectionID:   req.SectionID,
		SubjectID:   req.SubjectID,
		TeacherID:   req.TeacherID,
		DayOfWeek:   req.DayOfWeek,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	}

	release, err := s.acquireSlotLocks(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.ensureNoConflict(ctx, slot, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create timetable slot")
	}
	s.invalidateViews(ctx, slot.SchoolID)
	return &slot, nil
}

// Update applies a partial edit to a slot's booking. The whole request is
// rejected if the merged placement conflicts; the stored slot then stays
// untouched. The slot's own row never counts as a conflict, so keeping the
// time unchanged while swapping the subject always succeeds.
func (s *TimetableService) Update(ctx context.Context, id string, req UpdateTimetableSlotRequest) (*models.TimetableSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable slot payload")
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slot")
	}

	updated := *existing
	if req.SectionID != nil {
		updated.SectionID = *req.SectionID
	}
	if req.SubjectID != nil {
		updated.SubjectID = *req.SubjectID
	}
	if req.TeacherID != nil {
		updated.TeacherID = *req.TeacherID
	}
	if req.DayOfWeek != nil {
		updated.DayOfWeek = *req.DayOfWeek
	}
	if req.StartMinute != nil {
		updated.StartMinute = *req.StartMinute
	}
	if req.EndMinute != nil {
		updated.EndMinute = *req.EndMinute
	}
	if updated.StartMinute >= updated.EndMinute {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot must end after it starts")
	}

	// Lock the old placement too so a concurrent booking of the vacated
	// window serializes against this move.
	release, err := s.acquireSlotLocks(ctx, updated, *existing)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.ensureNoConflict(ctx, updated, existing.ID); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update timetable slot")
	}
	s.invalidateViews(ctx, updated.SchoolID)
	return &updated, nil
}

// Delete removes a slot. Deleting an unknown ID is a no-op; removing a slot
// can never create a conflict, so no check runs.
func (s *TimetableService) Delete(ctx context.Context, id string) error {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slot")
	}
	existed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete timetable slot")
	}
	if existed {
		s.invalidateViews(ctx, slot.SchoolID)
	}
	return nil
}

// CheckSlot runs the conflict check without persisting, for dry-run previews.
func (s *TimetableService) CheckSlot(ctx context.Context, req CreateTimetableSlotRequest) (*models.SlotConflict, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable slot payload")
	}
	slot := models.TimetableSlot{
		SchoolID:    req.SchoolID,
		SectionID:   req.SectionID,
		TeacherID:   req.TeacherID,
		DayOfWeek:   req.DayOfWeek,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	}
	if err := s.ensureNoConflict(ctx, slot, ""); err != nil {
		var domainErr *models.SlotConflictError
		if errors.As(err, &domainErr) {
			return &domainErr.Conflict, nil
		}
		return nil, err
	}
	return nil, nil
}

func (s *TimetableService) acquireSlotLocks(ctx context.Context, slots ...models.TimetableSlot) (func(), error) {
	keys := make([]string, 0, 2*len(slots))
	for _, slot := range slots {
		keys = append(keys,
			fmt.Sprintf("tt:%s:section:%s:day:%d", slot.SchoolID, slot.SectionID, slot.DayOfWeek),
			fmt.Sprintf("tt:%s:teacher:%s:day:%d", slot.SchoolID, slot.TeacherID, slot.DayOfWeek),
		)
	}
	start := time.Now()
	release, err := s.locker.Acquire(ctx, keys...)
	if s.metrics != nil {
		s.metrics.ObserveLockWait(time.Since(start))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire timetable locks")
	}
	return release, nil
}

// ensureNoConflict checks the section dimension before the teacher dimension;
// when both collide the section conflict is the one reported.
func (s *TimetableService) ensureNoConflict(ctx context.Context, slot models.TimetableSlot, ignoreID string) error {
	sectionHit, err := s.repo.FindSectionOverlap(ctx, slot.SchoolID, slot.SectionID, slot.DayOfWeek, slot.StartMinute, slot.EndMinute, ignoreID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check section conflicts")
	}
	if sectionHit != nil {
		return s.wrapConflict(models.ConflictKindSection, "section already has a lesson in this window", *sectionHit)
	}

	teacherHit, err := s.repo.FindTeacherOverlap(ctx, slot.SchoolID, slot.TeacherID, slot.DayOfWeek, slot.StartMinute, slot.EndMinute, ignoreID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher conflicts")
	}
	if teacherHit != nil {
		return s.wrapConflict(models.ConflictKindTeacher, "teacher already has a lesson in this window", *teacherHit)
	}
	return nil
}

func (s *TimetableService) wrapConflict(kind, message string, existing models.TimetableSlot) error {
	if s.metrics != nil {
		s.metrics.RecordConflict(kind)
	}
	s.logger.Info("timetable conflict detected",
		zap.String("kind", kind),
		zap.String("conflicting_slot_id", existing.ID),
		zap.Int("day_of_week", existing.DayOfWeek),
		zap.Int("start_minute", existing.StartMinute),
		zap.Int("end_minute", existing.EndMinute),
	)
	domainErr := &models.SlotConflictError{
		Message: message,
		Conflict: models.SlotConflict{
			Kind:              kind,
			ConflictingSlotID: existing.ID,
			SectionID:         existing.SectionID,
			TeacherID:         existing.TeacherID,
			DayOfWeek:         existing.DayOfWeek,
			StartMinute:       existing.StartMinute,
			EndMinute:         existing.EndMinute,
		},
	}
	appErr := appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, fmt.Sprintf("timetable conflict: %s", message))
	// Clients need the colliding slot to resolve the rejection; the wrapped
	// error alone never reaches the response body.
	appErr.Details = domainErr.Conflict
	return appErr
}

func (s *TimetableService) invalidateViews(ctx context.Context, schoolID string) {
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("timetable:%s:*", schoolID))
}
