package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tahfiz-app/tahfiz-api/internal/dto"
	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/service"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
	"github.com/tahfiz-app/tahfiz-api/pkg/export"
	"github.com/tahfiz-app/tahfiz-api/pkg/response"
)

// AssignmentHandler exposes assignment lifecycle endpoints.
type AssignmentHandler struct {
	lifecycle *service.LifecycleService
}

// NewAssignmentHandler constructs handler.
func NewAssignmentHandler(lifecycle *service.LifecycleService) *AssignmentHandler {
	return &AssignmentHandler{lifecycle: lifecycle}
}

// Create godoc
// @Summary Create an assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.lifecycle.CreateAssignment(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Get godoc
// @Summary Get one assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	assignment, err := h.lifecycle.GetAssignment(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Delete godoc
// @Summary Delete an assignment
// @Tags Assignments
// @Param id path string true "Assignment ID"
// @Success 204
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	if err := h.lifecycle.DeleteAssignment(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Transition godoc
// @Summary Move an assignment along the state graph
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/transition [post]
func (h *AssignmentHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.lifecycle.Transition(
		c.Request.Context(),
		c.Param("id"),
		models.AssignmentStatus(req.ExpectedFrom),
		models.AssignmentStatus(req.To),
		claimsFromContext(c),
		req.Note,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// LinkHighlights godoc
// @Summary Attach highlights to an assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.LinkHighlightsRequest true "Highlight ids"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/highlights [post]
func (h *AssignmentHandler) LinkHighlights(c *gin.Context) {
	var req dto.LinkHighlightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.lifecycle.LinkHighlights(c.Request.Context(), c.Param("id"), req.HighlightIDs, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ListHighlights godoc
// @Summary List highlights linked to an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/highlights [get]
func (h *AssignmentHandler) ListHighlights(c *gin.Context) {
	highlights, err := h.lifecycle.ListLinkedHighlights(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, highlights, nil)
}

// Complete godoc
// @Summary Complete an assignment and close its linked highlights
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/complete [put]
func (h *AssignmentHandler) Complete(c *gin.Context) {
	result, err := h.lifecycle.Complete(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reopen godoc
// @Summary Reopen a completed assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/reopen [post]
func (h *AssignmentHandler) Reopen(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	// Body is optional on reopen.
	_ = c.ShouldBindJSON(&req)
	assignment, err := h.lifecycle.Reopen(c.Request.Context(), c.Param("id"), claimsFromContext(c), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// RevertHighlights godoc
// @Summary Restore pre-completion colors on a reopened assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/highlights/revert [post]
func (h *AssignmentHandler) RevertHighlights(c *gin.Context) {
	report, err := h.lifecycle.RevertHighlights(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ListEvents godoc
// @Summary List the assignment audit trail
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/events [get]
func (h *AssignmentHandler) ListEvents(c *gin.Context) {
	events, err := h.lifecycle.ListEvents(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// ExportEvents godoc
// @Summary Download the assignment audit trail as CSV
// @Tags Assignments
// @Produce text/csv
// @Param id path string true "Assignment ID"
// @Success 200
// @Router /assignments/{id}/events/export [get]
func (h *AssignmentHandler) ExportEvents(c *gin.Context) {
	assignmentID := c.Param("id")
	events, err := h.lifecycle.ListEvents(c.Request.Context(), assignmentID, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	dataset := export.Dataset{
		Headers: []string{"event_id", "event_type", "actor_user_id", "from_status", "to_status", "meta", "created_at"},
	}
	for _, event := range events {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"event_id":      event.ID,
			"event_type":    string(event.EventType),
			"actor_user_id": event.ActorUserID,
			"from_status":   string(event.FromStatus),
			"to_status":     string(event.ToStatus),
			"meta":          string(event.Meta),
			"created_at":    event.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	payload, err := export.NewCSVExporter().Render(dataset)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=assignment-%s-events.csv", assignmentID))
	c.Data(http.StatusOK, "text/csv", payload)
}
