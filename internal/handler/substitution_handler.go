package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vidyahub/school-api/internal/service"
	appErrors "github.com/vidyahub/school-api/pkg/errors"
	"github.com/vidyahub/school-api/pkg/response"
)

// SubstitutionHandler manages substitution endpoints.
type SubstitutionHandler struct {
	service *service.SubstitutionService
}

// NewSubstitutionHandler constructs handler.
func NewSubstitutionHandler(svc *service.SubstitutionService) *SubstitutionHandler {
	return &SubstitutionHandler{service: svc}
}

// ToggleSubstitutionRequest flips a substitution's is_active flag.
type ToggleSubstitutionRequest struct {
	IsActive *bool `json:"is_active"`
}

// Assign godoc
// @Summary Assign a substitute
// @Description Records a substitute teacher for one teaching assignment and date
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param payload body service.AssignSubstituteRequest true "Substitution payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /substitutions [post]
func (h *SubstitutionHandler) Assign(c *gin.Context) {
	var req service.AssignSubstituteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid substitution payload"))
		return
	}
	if req.AssignedByID == "" {
		if claims := claimsFromContext(c); claims != nil {
			req.AssignedByID = claims.UserID
		}
	}

	sub, err := h.service.Assign(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

// Deactivate godoc
// @Summary Cancel a substitution
// @Description Marks a substitution inactive; already inactive records are returned unchanged
// @Tags Substitutions
// @Produce json
// @Param id path string true "Substitution ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /substitutions/{id} [delete]
func (h *SubstitutionHandler) Deactivate(c *gin.Context) {
	sub, err := h.service.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// UpdateActive godoc
// @Summary Toggle a substitution
// @Description Sets is_active; reactivating fails when the date already has another active cover
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param id path string true "Substitution ID"
// @Param payload body handler.ToggleSubstitutionRequest true "Flag payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /substitutions/{id} [patch]
func (h *SubstitutionHandler) UpdateActive(c *gin.Context) {
	var req ToggleSubstitutionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "is_active boolean is required"))
		return
	}
	sub, err := h.service.SetActive(c.Request.Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// ListByDate godoc
// @Summary List substitutions for a date
// @Tags Substitutions
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param schoolId query string false "School ID (super admin only)"
// @Success 200 {object} response.Envelope
// @Router /substitutions [get]
func (h *SubstitutionHandler) ListByDate(c *gin.Context) {
	date, ok := dateFromQuery(c, "date")
	if !ok {
		return
	}
	subs, err := h.service.ListByDate(c.Request.Context(), schoolIDFromRequest(c), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subs, nil)
}

// ListBySection godoc
// @Summary List substitutions for a section
// @Tags Substitutions
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/substitutions [get]
func (h *SubstitutionHandler) ListBySection(c *gin.Context) {
	subs, err := h.service.ListBySection(c.Request.Context(), schoolIDFromRequest(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subs, nil)
}

// Available godoc
// @Summary List available substitutes
// @Description Active teachers free on the date, optionally narrowed by grade and schedule-aware strict screening
// @Tags Substitutions
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param grade query int false "Grade level the candidate must cover"
// @Param strict query bool false "Drop teachers whose own lessons clash with the periods needing cover"
// @Param assignment query string false "Teaching assignment whose periods need cover (strict mode)"
// @Success 200 {object} response.Envelope
// @Router /substitutions/available [get]
func (h *SubstitutionHandler) Available(c *gin.Context) {
	date, ok := dateFromQuery(c, "date")
	if !ok {
		return
	}

	query := service.AvailableSubstitutesQuery{
		SchoolID:             schoolIDFromRequest(c),
		Date:                 date,
		Strict:               h.service.StrictDefault(),
		TeachingAssignmentID: c.Query("assignment"),
	}
	if grade, err := strconv.Atoi(c.DefaultQuery("grade", "0")); err == nil {
		query.Grade = grade
	}
	if raw := c.Query("strict"); raw != "" {
		strict, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "strict must be a boolean"))
			return
		}
		query.Strict = strict
	}

	teachers, err := h.service.AvailableSubstitutes(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teachers, nil)
}

// Effective godoc
// @Summary Effective lessons for a section and date
// @Description Teaching assignments with active substitutions applied
// @Tags Substitutions
// @Produce json
// @Param id path string true "Section ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/effective [get]
func (h *SubstitutionHandler) Effective(c *gin.Context) {
	date, ok := dateFromQuery(c, "date")
	if !ok {
		return
	}
	lessons, err := h.service.EffectiveForSectionDate(c.Request.Context(), schoolIDFromRequest(c), c.Param("id"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, nil)
}

func dateFromQuery(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" query parameter is required"))
		return time.Time{}, false
	}
	date, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must use the YYYY-MM-DD format"))
		return time.Time{}, false
	}
	return date, true
}
