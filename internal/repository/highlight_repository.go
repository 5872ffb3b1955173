package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
)

const highlightColumns = `id, school_id, teacher_id, student_id, script_id, ayah_id,
       token_start, token_end, mistake_type, color, previous_color,
       completed_at, completed_by, created_at`

// HighlightRepository persists highlight rows.
type HighlightRepository struct {
	db *sqlx.DB
}

// NewHighlightRepository constructs the repository.
func NewHighlightRepository(db *sqlx.DB) *HighlightRepository {
	return &HighlightRepository{db: db}
}

// Create inserts a new highlight row.
func (r *HighlightRepository) Create(ctx context.Context, highlight *models.Highlight) error {
	if highlight.ID == "" {
		highlight.ID = uuid.NewString()
	}
	if highlight.CreatedAt.IsZero() {
		highlight.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO highlights
	(id, school_id, teacher_id, student_id, script_id, ayah_id, token_start, token_end, mistake_type, color, previous_color, completed_at, completed_by, created_at)
	VALUES (:id, :school_id, :teacher_id, :student_id, :script_id, :ayah_id, :token_start, :token_end, :mistake_type, :color, :previous_color, :completed_at, :completed_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, highlight); err != nil {
		return fmt.Errorf("create highlight: %w", err)
	}
	return nil
}

// GetByID fetches a highlight by identifier.
func (r *HighlightRepository) GetByID(ctx context.Context, id string) (*models.Highlight, error) {
	query := `SELECT ` + highlightColumns + ` FROM highlights WHERE id = $1`
	var highlight models.Highlight
	if err := r.db.GetContext(ctx, &highlight, query, id); err != nil {
		return nil, err
	}
	return &highlight, nil
}

// UpdateOpen persists teacher edits to an open highlight. The guard on
// color keeps closed rows immutable outside the cascade: zero rows affected
// means the row is either absent or already gold.
func (r *HighlightRepository) UpdateOpen(ctx context.Context, highlight *models.Highlight) (int64, error) {
	const query = `UPDATE highlights SET
		script_id = :script_id,
		ayah_id = :ayah_id,
		token_start = :token_start,
		token_end = :token_end,
		mistake_type = :mistake_type,
		color = :color
	WHERE id = :id AND color <> '` + models.ColorGold + `'`
	result, err := r.db.NamedExecContext(ctx, query, highlight)
	if err != nil {
		return 0, fmt.Errorf("update highlight: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check highlight update rows: %w", err)
	}
	return rows, nil
}

// Delete removes a highlight and its link rows. Deletion is independent of
// assignment state, so stale links must not survive it.
func (r *HighlightRepository) Delete(ctx context.Context, id string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete highlight: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignment_highlights WHERE highlight_id = $1`, id); err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("delete highlight links: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM highlights WHERE id = $1`, id)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("delete highlight: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("check highlight delete rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete highlight: %w", err)
	}
	return rows, nil
}

// HighlightFilter constrains listing queries.
type HighlightFilter struct {
	StudentID string
	TeacherID string
	SchoolID  string
}

// List returns highlights matching the filter, newest first.
func (r *HighlightRepository) List(ctx context.Context, filter HighlightFilter) ([]models.Highlight, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + highlightColumns + ` FROM highlights`)

	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	var highlights []models.Highlight
	if err := r.db.SelectContext(ctx, &highlights, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	return highlights, nil
}

// GetManyTx loads highlights by id inside a transaction, locking the rows
// for the duration of the cascade.
func (r *HighlightRepository) GetManyTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Highlight, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT `+highlightColumns+` FROM highlights WHERE id IN (%s) FOR UPDATE`,
		strings.Join(placeholders, ","))

	var highlights []models.Highlight
	if err := tx.SelectContext(ctx, &highlights, query, args...); err != nil {
		return nil, TranslateLockError(fmt.Errorf("lock highlights: %w", err))
	}
	return highlights, nil
}

// CompleteTx closes every still-open highlight in ids within the supplied
// transaction. Rows already gold are untouched. Returns the ids actually
// closed; the caller counts them for the cascade report.
func (r *HighlightRepository) CompleteTx(ctx context.Context, tx *sqlx.Tx, ids []string, actorID string, now time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, actorID, now)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE highlights SET
		previous_color = color,
		color = '%s',
		completed_by = $1,
		completed_at = $2
	WHERE id IN (%s) AND color <> '%s'
	RETURNING id`, models.ColorGold, strings.Join(placeholders, ","), models.ColorGold)

	var closed []string
	if err := tx.SelectContext(ctx, &closed, query, args...); err != nil {
		return nil, TranslateLockError(fmt.Errorf("complete highlights: %w", err))
	}
	return closed, nil
}

// RevertTx restores previous_color on gold highlights inside a transaction.
// Used by the explicit revert action after a reopen.
func (r *HighlightRepository) RevertTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE highlights SET
		color = previous_color,
		previous_color = NULL,
		completed_at = NULL,
		completed_by = NULL
	WHERE id IN (%s) AND color = '%s' AND previous_color IS NOT NULL
	RETURNING id`, strings.Join(placeholders, ","), models.ColorGold)

	var reverted []string
	if err := tx.SelectContext(ctx, &reverted, query, args...); err != nil {
		return nil, TranslateLockError(fmt.Errorf("revert highlights: %w", err))
	}
	return reverted, nil
}
