package dto

import (
	"time"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
)

// CreateAssignmentRequest is the payload for creating an assignment in the
// assigned state.
type CreateAssignmentRequest struct {
	StudentID   string    `json:"student_id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at" validate:"required"`
}

// TransitionRequest asks the lifecycle engine to move an assignment along
// one edge of the state graph. ExpectedFrom is the optimistic-concurrency
// guard: the call fails with CONFLICT when the row has moved on.
type TransitionRequest struct {
	ExpectedFrom string `json:"expected_from" validate:"required"`
	To           string `json:"to" validate:"required"`
	Note         string `json:"note"`
}

// LinkHighlightsRequest attaches mistake highlights to an assignment.
type LinkHighlightsRequest struct {
	HighlightIDs []string `json:"highlight_ids" validate:"required,min=1"`
}

// LinkFailure reports one highlight id that failed link validation.
type LinkFailure struct {
	HighlightID string `json:"highlight_id"`
	Reason      string `json:"reason"`
}

// LinkReport is the partial-success outcome of a link batch.
type LinkReport struct {
	Linked int           `json:"linked"`
	Failed []LinkFailure `json:"failed,omitempty"`
}

// CompleteResult is the outcome of the completion cascade.
type CompleteResult struct {
	Assignment          *models.Assignment `json:"assignment"`
	HighlightsCompleted int                `json:"highlights_completed"`
}

// RevertReport is the outcome of the explicit gold-revert action.
type RevertReport struct {
	Reverted int `json:"reverted"`
}
