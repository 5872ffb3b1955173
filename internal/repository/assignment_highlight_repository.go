package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
)

// AssignmentHighlightRepository persists the many-to-many link table
// between assignments and highlights.
type AssignmentHighlightRepository struct {
	db *sqlx.DB
}

// NewAssignmentHighlightRepository constructs the repository.
func NewAssignmentHighlightRepository(db *sqlx.DB) *AssignmentHighlightRepository {
	return &AssignmentHighlightRepository{db: db}
}

// Link inserts the pair if absent. Returns true when a new row was written;
// re-linking an existing pair reports false without error.
func (r *AssignmentHighlightRepository) Link(ctx context.Context, assignmentID, highlightID string) (bool, error) {
	const query = `INSERT INTO assignment_highlights (assignment_id, highlight_id)
	VALUES ($1, $2) ON CONFLICT (assignment_id, highlight_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, assignmentID, highlightID)
	if err != nil {
		return false, fmt.Errorf("link highlight: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check link rows: %w", err)
	}
	return rows > 0, nil
}

// ListHighlightIDs returns the highlight ids linked to an assignment.
func (r *AssignmentHighlightRepository) ListHighlightIDs(ctx context.Context, assignmentID string) ([]string, error) {
	const query = `SELECT highlight_id FROM assignment_highlights WHERE assignment_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list linked highlight ids: %w", err)
	}
	return ids, nil
}

// ListHighlightIDsTx is ListHighlightIDs inside the cascade transaction.
func (r *AssignmentHighlightRepository) ListHighlightIDsTx(ctx context.Context, tx *sqlx.Tx, assignmentID string) ([]string, error) {
	const query = `SELECT highlight_id FROM assignment_highlights WHERE assignment_id = $1`
	var ids []string
	if err := tx.SelectContext(ctx, &ids, query, assignmentID); err != nil {
		return nil, TranslateLockError(fmt.Errorf("list linked highlight ids: %w", err))
	}
	return ids, nil
}

// ListLinkedHighlights joins the link table to the highlight rows so
// callers see current color and completion state.
func (r *AssignmentHighlightRepository) ListLinkedHighlights(ctx context.Context, assignmentID string) ([]models.Highlight, error) {
	const query = `SELECT h.id, h.school_id, h.teacher_id, h.student_id, h.script_id, h.ayah_id,
       h.token_start, h.token_end, h.mistake_type, h.color, h.previous_color,
       h.completed_at, h.completed_by, h.created_at
	FROM assignment_highlights l
	JOIN highlights h ON h.id = l.highlight_id
	WHERE l.assignment_id = $1
	ORDER BY h.created_at ASC`
	var highlights []models.Highlight
	if err := r.db.SelectContext(ctx, &highlights, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list linked highlights: %w", err)
	}
	return highlights, nil
}
