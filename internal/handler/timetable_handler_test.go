package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/internal/service"
)

type responseEnvelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *envelopeError     `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

type envelopeError struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Details *models.SlotConflict `json:"details"`
}

type stubTimetableRepo struct {
	mu    sync.Mutex
	slots map[string]models.TimetableSlot
	next  int
}

func newStubTimetableRepo() *stubTimetableRepo {
	return &stubTimetableRepo{slots: make(map[string]models.TimetableSlot)}
}

func (r *stubTimetableRepo) List(_ context.Context, filter models.TimetableFilter) ([]models.TimetableSlot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TimetableSlot
	for _, slot := range r.slots {
		if filter.SectionID != "" && slot.SectionID != filter.SectionID {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *stubTimetableRepo) FindByID(_ context.Context, id string) (*models.TimetableSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &slot, nil
}

func (r *stubTimetableRepo) FindBySectionDay(_ context.Context, schoolID, sectionID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TimetableSlot
	for _, slot := range r.slots {
		if slot.SchoolID == schoolID && slot.SectionID == sectionID && slot.DayOfWeek == dayOfWeek {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (r *stubTimetableRepo) FindByTeacherDay(_ context.Context, schoolID, teacherID string, dayOfWeek int) ([]models.TimetableSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TimetableSlot
	for _, slot := range r.slots {
		if slot.SchoolID == schoolID && slot.TeacherID == teacherID && slot.DayOfWeek == dayOfWeek {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (r *stubTimetableRepo) FindSectionOverlap(_ context.Context, schoolID, sectionID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.slots {
		if slot.ID == excludeID || slot.SchoolID != schoolID || slot.SectionID != sectionID || slot.DayOfWeek != dayOfWeek {
			continue
		}
		if startMinute < slot.EndMinute && slot.StartMinute < endMinute {
			return &slot, nil
		}
	}
	return nil, nil
}

func (r *stubTimetableRepo) FindTeacherOverlap(_ context.Context, schoolID, teacherID string, dayOfWeek, startMinute, endMinute int, excludeID string) (*models.TimetableSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.slots {
		if slot.ID == excludeID || slot.SchoolID != schoolID || slot.TeacherID != teacherID || slot.DayOfWeek != dayOfWeek {
			continue
		}
		if startMinute < slot.EndMinute && slot.StartMinute < endMinute {
			return &slot, nil
		}
	}
	return nil, nil
}

func (r *stubTimetableRepo) Create(_ context.Context, slot *models.TimetableSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	if slot.ID == "" {
		slot.ID = "slot-" + strconv.Itoa(r.next)
	}
	r.slots[slot.ID] = *slot
	return nil
}

func (r *stubTimetableRepo) Update(_ context.Context, slot *models.TimetableSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot.ID] = *slot
	return nil
}

func (r *stubTimetableRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; !ok {
		return false, nil
	}
	delete(r.slots, id)
	return true, nil
}

func newTimetableRouter(repo *stubTimetableRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewTimetableService(repo, nil, nil, nil, nil, nil)
	h := NewTimetableHandler(svc)

	r := gin.New()
	r.GET("/timetable/slots", h.List)
	r.POST("/timetable/slots", h.Create)
	r.POST("/timetable/slots/check", h.CheckSlot)
	r.PATCH("/timetable/slots/:id", h.Update)
	r.DELETE("/timetable/slots/:id", h.Delete)
	r.GET("/sections/:id/timetable/:day", h.SectionDay)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func slotPayload() map[string]interface{} {
	return map[string]interface{}{
		"school_id":    "school-1",
		"section_id":   "sec-1",
		"subject_id":   "sub-math",
		"teacher_id":   "t-1",
		"day_of_week":  1,
		"start_minute": 540,
		"end_minute":   580,
	}
}

func TestTimetableCreateAndConflictResponses(t *testing.T) {
	repo := newStubTimetableRepo()
	r := newTimetableRouter(repo)

	rec := postJSON(t, r, http.MethodPost, "/timetable/slots", slotPayload())
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Same section, overlapping window, different teacher.
	second := slotPayload()
	second["teacher_id"] = "t-2"
	second["start_minute"] = 560
	second["end_minute"] = 600
	rec = postJSON(t, r, http.MethodPost, "/timetable/slots", second)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "CONFLICT", envelope.Error.Code)

	// The body names the colliding slot so clients can resolve the clash.
	require.NotNil(t, envelope.Error.Details)
	assert.Equal(t, models.ConflictKindSection, envelope.Error.Details.Kind)
	assert.Equal(t, "slot-1", envelope.Error.Details.ConflictingSlotID)
}

func TestTimetableCreateValidation(t *testing.T) {
	repo := newStubTimetableRepo()
	r := newTimetableRouter(repo)

	payload := slotPayload()
	payload["day_of_week"] = 8
	rec := postJSON(t, r, http.MethodPost, "/timetable/slots", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.slots)
}

func TestTimetableCheckSlotDoesNotPersist(t *testing.T) {
	repo := newStubTimetableRepo()
	r := newTimetableRouter(repo)

	rec := postJSON(t, r, http.MethodPost, "/timetable/slots", slotPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	proposal := slotPayload()
	proposal["teacher_id"] = "t-2"
	proposal["start_minute"] = 550
	proposal["end_minute"] = 590
	rec = postJSON(t, r, http.MethodPost, "/timetable/slots/check", proposal)
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	var data struct {
		Available bool                 `json:"available"`
		Conflict  *models.SlotConflict `json:"conflict"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.False(t, data.Available)
	require.NotNil(t, data.Conflict)
	assert.Len(t, repo.slots, 1)
}

func TestTimetableCheckSlotAvailable(t *testing.T) {
	repo := newStubTimetableRepo()
	r := newTimetableRouter(repo)

	rec := postJSON(t, r, http.MethodPost, "/timetable/slots/check", slotPayload())
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	var data struct {
		Available bool `json:"available"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.True(t, data.Available)
	assert.Empty(t, repo.slots)
}

func TestTimetableDeleteMissingIsNoOp(t *testing.T) {
	r := newTimetableRouter(newStubTimetableRepo())

	req := httptest.NewRequest(http.MethodDelete, "/timetable/slots/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTimetableSectionDayRejectsBadDay(t *testing.T) {
	r := newTimetableRouter(newStubTimetableRepo())

	req := httptest.NewRequest(http.MethodGet, "/sections/sec-1/timetable/nine?schoolId=school-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
