package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vidyahub/school-api/internal/models"
	"github.com/vidyahub/school-api/internal/service"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
	"github.com/vidyahub/school-api/pkg/response"
)

// TimetableHandler manages timetable slot endpoints.
type TimetableHandler struct {
	service *service.TimetableService
}

// NewTimetableHandler constructs handler.
func NewTimetableHandler(svc *service.TimetableService) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

// List godoc
// @Summary List timetable slots
// @Tags Timetable
// @Produce json
// @Param schoolId query string false "Filter by school"
// @Param sectionId query string false "Filter by section"
// @Param teacherId query string false "Filter by teacher"
// @Param dayOfWeek query int false "Filter by day (1=Monday .. 7=Sunday)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetable/slots [get]
func (h *TimetableHandler) List(c *gin.Context) {
	var filter models.TimetableFilter
	filter.SchoolID = c.Query("schoolId")
	filter.SectionID = c.Query("sectionId")
	filter.TeacherID = c.Query("teacherId")
	if day, err := strconv.Atoi(c.DefaultQuery("dayOfWeek", "0")); err == nil {
		filter.DayOfWeek = day
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil {
		filter.PageSize = limit
	}

	slots, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, pagination)
}

// Get godoc
// @Summary Get timetable slot
// @Tags Timetable
// @Produce json
// @Param id path string true "Slot ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetable/slots/{id} [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	slot, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// SectionDay godoc
// @Summary Section timetable for a day
// @Tags Timetable
// @Produce json
// @Param id path string true "Section ID"
// @Param day path int true "Day of week (1=Monday .. 7=Sunday)"
// @Param schoolId query string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/timetable/{day} [get]
func (h *TimetableHandler) SectionDay(c *gin.Context) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "day must be an integer between 1 and 7"))
		return
	}
	slots, err := h.service.SectionDay(c.Request.Context(), schoolIDFromRequest(c), c.Param("id"), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// TeacherDay godoc
// @Summary Teacher timetable for a day
// @Tags Timetable
// @Produce json
// @Param id path string true "Teacher ID"
// @Param day path int true "Day of week (1=Monday .. 7=Sunday)"
// @Param schoolId query string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/timetable/{day} [get]
func (h *TimetableHandler) TeacherDay(c *gin.Context) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "day must be an integer between 1 and 7"))
		return
	}
	slots, err := h.service.TeacherDay(c.Request.Context(), schoolIDFromRequest(c), c.Param("id"), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Create godoc
// @Summary Create timetable slot
// @Description Creates a slot after checking section and teacher availability
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body service.CreateTimetableSlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetable/slots [post]
func (h *TimetableHandler) Create(c *gin.Context) {
	var req service.CreateTimetableSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	slot, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Update godoc
// @Summary Update timetable slot
// @Description Partially edits a slot; rejected entirely when the merged placement conflicts
// @Tags Timetable
// @Accept json
// @Produce json
// @Param id path string true "Slot ID"
// @Param payload body service.UpdateTimetableSlotRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetable/slots/{id} [patch]
func (h *TimetableHandler) Update(c *gin.Context) {
	var req service.UpdateTimetableSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	slot, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Delete godoc
// @Summary Delete timetable slot
// @Description Removes a slot; unknown ids are a no-op
// @Tags Timetable
// @Produce json
// @Param id path string true "Slot ID"
// @Success 204
// @Router /timetable/slots/{id} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckSlot godoc
// @Summary Dry-run conflict check
// @Description Reports whether a proposed slot would collide without persisting it
// @Tags Timetable
// @Accept json
// @Produce json
// @Param payload body service.CreateTimetableSlotRequest true "Proposed slot"
// @Success 200 {object} response.Envelope
// @Router /timetable/slots/check [post]
func (h *TimetableHandler) CheckSlot(c *gin.Context) {
	var req service.CreateTimetableSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	conflict, err := h.service.CheckSlot(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"available": conflict == nil,
		"conflict":  conflict,
	}, nil)
}

// schoolIDFromRequest prefers the token's school and falls back to the
// schoolId query for super admins.
func schoolIDFromRequest(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil && claims.SchoolID != nil {
		return *claims.SchoolID
	}
	return c.Query("schoolId")
}
