package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tahfiz-app/tahfiz-api/internal/dto"
	"github.com/tahfiz-app/tahfiz-api/internal/service"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
	"github.com/tahfiz-app/tahfiz-api/pkg/response"
)

// HighlightHandler exposes highlight endpoints.
type HighlightHandler struct {
	highlights *service.HighlightService
}

// NewHighlightHandler constructs handler.
func NewHighlightHandler(highlights *service.HighlightService) *HighlightHandler {
	return &HighlightHandler{highlights: highlights}
}

// Create godoc
// @Summary Mark a new mistake highlight
// @Tags Highlights
// @Accept json
// @Produce json
// @Param payload body dto.CreateHighlightRequest true "Highlight payload"
// @Success 201 {object} response.Envelope
// @Router /highlights [post]
func (h *HighlightHandler) Create(c *gin.Context) {
	var req dto.CreateHighlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	highlight, err := h.highlights.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, highlight)
}

// Get godoc
// @Summary Get one highlight
// @Tags Highlights
// @Produce json
// @Param id path string true "Highlight ID"
// @Success 200 {object} response.Envelope
// @Router /highlights/{id} [get]
func (h *HighlightHandler) Get(c *gin.Context) {
	highlight, err := h.highlights.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, highlight, nil)
}

// Update godoc
// @Summary Edit an open highlight
// @Tags Highlights
// @Accept json
// @Produce json
// @Param id path string true "Highlight ID"
// @Param payload body dto.UpdateHighlightRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /highlights/{id} [patch]
func (h *HighlightHandler) Update(c *gin.Context) {
	var req dto.UpdateHighlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	highlight, err := h.highlights.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, highlight, nil)
}

// Delete godoc
// @Summary Delete a highlight
// @Tags Highlights
// @Param id path string true "Highlight ID"
// @Success 204
// @Router /highlights/{id} [delete]
func (h *HighlightHandler) Delete(c *gin.Context) {
	if err := h.highlights.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List highlights (snapshot read)
// @Tags Highlights
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param teacher_id query string false "Filter by teacher"
// @Success 200 {object} response.Envelope
// @Router /highlights [get]
func (h *HighlightHandler) List(c *gin.Context) {
	var query dto.HighlightQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	highlights, err := h.highlights.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, highlights, nil)
}
