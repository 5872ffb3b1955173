package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
)

const assignmentColumns = `id, school_id, created_by_teacher_id, student_id, title,
       description, status, due_at, late, reopen_count, created_at`

// AssignmentRepository persists assignment rows and the append-only
// transition audit log.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Transact runs fn inside a transaction, rolling back on error. The
// lifecycle engine uses it to keep the status write, the audit append, and
// the highlight cascade in one atomic unit.
func (r *AssignmentRepository) Transact(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return TranslateLockError(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return TranslateLockError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// CreateTx inserts a new assignment row in the caller's transaction so the
// row and its creation audit event commit as one unit.
func (r *AssignmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.Status == "" {
		assignment.Status = models.AssignmentAssigned
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assignments
	(id, school_id, created_by_teacher_id, student_id, title, description, status, due_at, late, reopen_count, created_at)
	VALUES (:id, :school_id, :created_by_teacher_id, :student_id, :title, :description, :status, :due_at, :late, :reopen_count, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// GetByID fetches an assignment by identifier.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// GetByIDTx fetches an assignment inside a transaction with a row lock.
func (r *AssignmentRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1 FOR UPDATE`
	var assignment models.Assignment
	if err := tx.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, TranslateLockError(err)
	}
	return &assignment, nil
}

// UpdateStatusParams groups the columns a transition writes.
type UpdateStatusParams struct {
	ID          string
	FromStatus  models.AssignmentStatus
	ToStatus    models.AssignmentStatus
	Late        bool
	ReopenCount int
}

// UpdateStatusCAS writes the new status guarded by the expected current
// status. Zero rows affected means a concurrent writer moved the row first
// (or the row is gone); the caller discriminates by re-reading.
func (r *AssignmentRepository) UpdateStatusCAS(ctx context.Context, tx *sqlx.Tx, params UpdateStatusParams) (int64, error) {
	const query = `UPDATE assignments SET status = $1, late = $2, reopen_count = $3
	WHERE id = $4 AND status = $5`
	result, err := tx.ExecContext(ctx, query,
		params.ToStatus, params.Late, params.ReopenCount, params.ID, params.FromStatus)
	if err != nil {
		return 0, TranslateLockError(fmt.Errorf("update assignment status: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check assignment update rows: %w", err)
	}
	return rows, nil
}

// InsertEventTx appends one audit record in the caller's transaction so the
// status write and its audit entry commit or roll back together.
func (r *AssignmentRepository) InsertEventTx(ctx context.Context, tx *sqlx.Tx, event *models.AssignmentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assignment_events
	(id, assignment_id, event_type, actor_user_id, from_status, to_status, meta, created_at)
	VALUES (:id, :assignment_id, :event_type, :actor_user_id, :from_status, :to_status, :meta, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("insert assignment event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail for an assignment, oldest first.
func (r *AssignmentRepository) ListEvents(ctx context.Context, assignmentID string) ([]models.AssignmentEvent, error) {
	const query = `SELECT id, assignment_id, event_type, actor_user_id, from_status, to_status, meta, created_at
	FROM assignment_events WHERE assignment_id = $1 ORDER BY created_at ASC`
	var events []models.AssignmentEvent
	if err := r.db.SelectContext(ctx, &events, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment events: %w", err)
	}
	return events, nil
}

// Delete removes an assignment after cascading its link rows. The two
// deletes share a transaction so no orphaned links survive.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) (int64, error) {
	var rows int64
	err := r.Transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignment_highlights WHERE assignment_id = $1`, id); err != nil {
			return fmt.Errorf("delete assignment links: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check assignment delete rows: %w", err)
		}
		return nil
	})
	return rows, err
}
