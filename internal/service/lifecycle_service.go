package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tahfiz-app/tahfiz-api/internal/dto"
	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/repository"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
	"github.com/tahfiz-app/tahfiz-api/pkg/feed"
)

type assignmentStore interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, assignment *models.Assignment) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Assignment, error)
	UpdateStatusCAS(ctx context.Context, tx *sqlx.Tx, params repository.UpdateStatusParams) (int64, error)
	InsertEventTx(ctx context.Context, tx *sqlx.Tx, event *models.AssignmentEvent) error
	ListEvents(ctx context.Context, assignmentID string) ([]models.AssignmentEvent, error)
	Delete(ctx context.Context, id string) (int64, error)
	Transact(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type linkStore interface {
	Link(ctx context.Context, assignmentID, highlightID string) (bool, error)
	ListHighlightIDs(ctx context.Context, assignmentID string) ([]string, error)
	ListHighlightIDsTx(ctx context.Context, tx *sqlx.Tx, assignmentID string) ([]string, error)
	ListLinkedHighlights(ctx context.Context, assignmentID string) ([]models.Highlight, error)
}

type highlightCascadeStore interface {
	GetByID(ctx context.Context, id string) (*models.Highlight, error)
	GetManyTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Highlight, error)
	CompleteTx(ctx context.Context, tx *sqlx.Tx, ids []string, actorID string, now time.Time) ([]string, error)
	RevertTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]string, error)
}

// errCASLost marks a compare-and-swap miss inside a transaction. The caller
// re-reads to tell a concurrent winner from a vanished row.
var errCASLost = errors.New("status guard matched no rows")

// LifecycleService is the assignment lifecycle engine: it validates and
// applies state transitions, links highlights, and runs the completion
// cascade as one transactional unit.
type LifecycleService struct {
	assignments assignmentStore
	links       linkStore
	highlights  highlightCascadeStore
	publisher   feed.Publisher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	lockTimeout time.Duration
	now         func() time.Time
}

// LifecycleOption configures the service.
type LifecycleOption func(*LifecycleService)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) LifecycleOption {
	return func(s *LifecycleService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLockTimeout bounds how long lifecycle writes wait on row locks.
func WithLockTimeout(d time.Duration) LifecycleOption {
	return func(s *LifecycleService) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewLifecycleService constructs the engine.
func NewLifecycleService(assignments assignmentStore, links linkStore, highlights highlightCascadeStore, publisher feed.Publisher, metrics *MetricsService, logger *zap.Logger, opts ...LifecycleOption) *LifecycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &LifecycleService{
		assignments: assignments,
		links:       links,
		highlights:  highlights,
		publisher:   publisher,
		metrics:     metrics,
		validator:   validator.New(),
		logger:      logger,
		lockTimeout: 3 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateAssignment creates an assignment in the assigned state.
func (s *LifecycleService) CreateAssignment(ctx context.Context, req dto.CreateAssignmentRequest, actor *models.JWTClaims) (*models.Assignment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	assignment := &models.Assignment{
		SchoolID:           actor.SchoolID,
		CreatedByTeacherID: actor.UserID,
		StudentID:          req.StudentID,
		Title:              req.Title,
		Description:        req.Description,
		Status:             models.AssignmentAssigned,
		DueAt:              req.DueAt,
	}
	// Row and creation event commit together; an assignment never exists
	// without the opening entry of its audit trail.
	err := s.assignments.Transact(ctx, func(tx *sqlx.Tx) error {
		if err := s.assignments.CreateTx(ctx, tx, assignment); err != nil {
			return err
		}
		event := models.NewAssignmentCreatedEvent(assignment.ID, actor.UserID)
		return s.assignments.InsertEventTx(ctx, tx, &event)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}

	s.publishAssignment(models.KindInsert, assignment)
	return assignment, nil
}

// GetAssignment returns one assignment enforcing school scope.
func (s *LifecycleService) GetAssignment(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error) {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || assignment.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	return assignment, nil
}

// ListEvents returns the audit trail, oldest first.
func (s *LifecycleService) ListEvents(ctx context.Context, assignmentID string, actor *models.JWTClaims) ([]models.AssignmentEvent, error) {
	if _, err := s.GetAssignment(ctx, assignmentID, actor); err != nil {
		return nil, err
	}
	events, err := s.assignments.ListEvents(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignment events")
	}
	return events, nil
}

// ListLinkedHighlights returns linked highlights with current completion
// state.
func (s *LifecycleService) ListLinkedHighlights(ctx context.Context, assignmentID string, actor *models.JWTClaims) ([]models.Highlight, error) {
	if _, err := s.GetAssignment(ctx, assignmentID, actor); err != nil {
		return nil, err
	}
	highlights, err := s.links.ListLinkedHighlights(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list linked highlights")
	}
	return highlights, nil
}

// Transition validates and applies one edge of the state graph.
//
// The expectedFrom guard is the optimistic-concurrency contract: when the
// stored status differs the caller lost a race, gets CONFLICT, and must
// re-read before retrying. The status write and its audit event commit
// atomically. A transition targeting completed routes through Complete so
// the gold cascade always runs with the status change.
func (s *LifecycleService) Transition(ctx context.Context, assignmentID string, expectedFrom, to models.AssignmentStatus, actor *models.JWTClaims, note string) (*models.Assignment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !models.ValidAssignmentStatus(expectedFrom) || !models.ValidAssignmentStatus(to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown assignment status")
	}

	current, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if current.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	if current.Status != expectedFrom {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrConflict, "assignment status changed concurrently"),
			map[string]interface{}{"current_status": current.Status},
		)
	}
	if !models.CanTransition(expectedFrom, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "no edge from "+string(expectedFrom)+" to "+string(to))
	}
	if to == models.AssignmentCompleted {
		result, err := s.Complete(ctx, assignmentID, actor)
		if err != nil {
			return nil, err
		}
		return result.Assignment, nil
	}

	now := s.now()
	updated := *current
	updated.Status = to
	if to == models.AssignmentReopened {
		updated.ReopenCount++
	}
	updated.Late = nextLate(current, to, now)

	event := s.transitionEvent(&updated, actor.UserID, expectedFrom, to, note)

	tctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	err = s.assignments.Transact(tctx, func(tx *sqlx.Tx) error {
		rows, err := s.assignments.UpdateStatusCAS(tctx, tx, repository.UpdateStatusParams{
			ID:          assignmentID,
			FromStatus:  expectedFrom,
			ToStatus:    to,
			Late:        updated.Late,
			ReopenCount: updated.ReopenCount,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errCASLost
		}
		return s.assignments.InsertEventTx(tctx, tx, &event)
	})
	if err != nil {
		return nil, s.translateTransitionError(ctx, assignmentID, err)
	}

	s.metrics.ObserveTransition(expectedFrom, to)
	s.publishAssignment(models.KindUpdate, &updated)
	return &updated, nil
}

// LinkHighlights attaches highlights to an assignment. The batch tolerates
// partial success: each invalid id is reported instead of aborting the rest.
func (s *LifecycleService) LinkHighlights(ctx context.Context, assignmentID string, highlightIDs []string, actor *models.JWTClaims) (*dto.LinkReport, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	current, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if current.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	if current.Status == models.AssignmentCompleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "assignment is completed; reopen it before linking highlights")
	}

	report := &dto.LinkReport{}
	seen := make(map[string]struct{}, len(highlightIDs))
	var linkedIDs []string
	for _, id := range highlightIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		highlight, err := s.highlights.GetByID(ctx, id)
		if err != nil {
			reason := "lookup failed"
			if errors.Is(err, sql.ErrNoRows) {
				reason = "highlight not found"
			}
			report.Failed = append(report.Failed, dto.LinkFailure{HighlightID: id, Reason: reason})
			continue
		}
		if highlight.SchoolID != current.SchoolID {
			report.Failed = append(report.Failed, dto.LinkFailure{HighlightID: id, Reason: "highlight belongs to a different school"})
			continue
		}
		if highlight.StudentID != current.StudentID {
			report.Failed = append(report.Failed, dto.LinkFailure{HighlightID: id, Reason: "highlight belongs to a different student"})
			continue
		}

		inserted, err := s.links.Link(ctx, assignmentID, id)
		if err != nil {
			report.Failed = append(report.Failed, dto.LinkFailure{HighlightID: id, Reason: "link write failed"})
			continue
		}
		if inserted {
			report.Linked++
			linkedIDs = append(linkedIDs, id)
		}
	}

	if len(linkedIDs) > 0 {
		event := models.NewHighlightsLinkedEvent(assignmentID, actor.UserID, current.Status,
			models.LinkedMeta{Linked: report.Linked, HighlightIDs: linkedIDs})
		if err := s.assignments.Transact(ctx, func(tx *sqlx.Tx) error {
			return s.assignments.InsertEventTx(ctx, tx, &event)
		}); err != nil {
			s.logger.Warn("failed to record link event", zap.Error(err), zap.String("assignment_id", assignmentID))
		}
		s.publishAssignment(models.KindUpdate, current)
	}
	return report, nil
}

// Complete runs the completion cascade: the reviewed → completed transition,
// its audit event, and the gold batch over every still-open linked
// highlight, all in one transaction. Any failure rolls everything back; the
// assignment is never left completed with open highlights.
func (s *LifecycleService) Complete(ctx context.Context, assignmentID string, actor *models.JWTClaims) (*dto.CompleteResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	current, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if current.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	if current.Status != models.AssignmentReviewed {
		if current.Status == models.AssignmentCompleted {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment is already completed")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "completion is only reachable from reviewed")
	}

	now := s.now()
	start := time.Now()
	var (
		attempted  []string
		closedIDs  []string
		closedRows []models.Highlight
		updated    models.Assignment
	)

	tctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	err = s.assignments.Transact(tctx, func(tx *sqlx.Tx) error {
		locked, err := s.assignments.GetByIDTx(tctx, tx, assignmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
			}
			return err
		}
		if locked.Status != models.AssignmentReviewed {
			return errCASLost
		}

		rows, err := s.assignments.UpdateStatusCAS(tctx, tx, repository.UpdateStatusParams{
			ID:          assignmentID,
			FromStatus:  models.AssignmentReviewed,
			ToStatus:    models.AssignmentCompleted,
			Late:        locked.Late,
			ReopenCount: locked.ReopenCount,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errCASLost
		}

		ids, err := s.links.ListHighlightIDsTx(tctx, tx, assignmentID)
		if err != nil {
			return err
		}
		attempted = ids

		closedIDs, err = s.highlights.CompleteTx(tctx, tx, ids, actor.UserID, now)
		if err != nil {
			return err
		}
		closedRows, err = s.highlights.GetManyTx(tctx, tx, closedIDs)
		if err != nil {
			return err
		}

		event := models.NewCompletionEvent(assignmentID, actor.UserID, models.AssignmentReviewed,
			models.CompletionMeta{HighlightIDs: ids, Completed: len(closedIDs)})
		if err := s.assignments.InsertEventTx(tctx, tx, &event); err != nil {
			return err
		}

		updated = *locked
		updated.Status = models.AssignmentCompleted
		return nil
	})
	if err != nil {
		if errors.Is(err, errCASLost) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment status changed concurrently")
		}
		if appErrors.Is(err, appErrors.ErrNotFound) || appErrors.Is(err, appErrors.ErrLockTimeout) {
			return nil, err
		}
		s.metrics.ObserveCascadeFailure()
		s.logger.Error("completion cascade rolled back",
			zap.Error(err),
			zap.String("assignment_id", assignmentID),
			zap.Strings("highlight_ids", attempted),
		)
		return nil, appErrors.WithDetails(
			appErrors.Wrap(err, appErrors.ErrCascade.Code, appErrors.ErrCascade.Status, appErrors.ErrCascade.Message),
			map[string]interface{}{"highlight_ids": attempted},
		)
	}

	s.metrics.ObserveTransition(models.AssignmentReviewed, models.AssignmentCompleted)
	s.metrics.ObserveCascade(time.Since(start), len(closedIDs))

	for i := range closedRows {
		s.publishHighlight(models.KindUpdate, &closedRows[i])
	}
	s.publishAssignment(models.KindUpdate, &updated)

	return &dto.CompleteResult{Assignment: &updated, HighlightsCompleted: len(closedIDs)}, nil
}

// Reopen moves a completed assignment to reopened. Linked highlights keep
// their gold until the explicit revert action; reopening alone never
// rewrites completion evidence.
func (s *LifecycleService) Reopen(ctx context.Context, assignmentID string, actor *models.JWTClaims, note string) (*models.Assignment, error) {
	return s.Transition(ctx, assignmentID, models.AssignmentCompleted, models.AssignmentReopened, actor, note)
}

// RevertHighlights restores previous_color on the gold highlights of a
// reopened assignment.
func (s *LifecycleService) RevertHighlights(ctx context.Context, assignmentID string, actor *models.JWTClaims) (*dto.RevertReport, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	current, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if current.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	if current.Status != models.AssignmentReopened {
		return nil, appErrors.Clone(appErrors.ErrConflict, "highlights can only be reverted on a reopened assignment")
	}

	var (
		reverted     []string
		revertedRows []models.Highlight
	)
	tctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	err = s.assignments.Transact(tctx, func(tx *sqlx.Tx) error {
		ids, err := s.links.ListHighlightIDsTx(tctx, tx, assignmentID)
		if err != nil {
			return err
		}
		reverted, err = s.highlights.RevertTx(tctx, tx, ids)
		if err != nil {
			return err
		}
		revertedRows, err = s.highlights.GetManyTx(tctx, tx, reverted)
		if err != nil {
			return err
		}
		event := models.NewHighlightsRevertedEvent(assignmentID, actor.UserID, current.Status,
			models.RevertMeta{HighlightIDs: reverted, Reverted: len(reverted)})
		return s.assignments.InsertEventTx(tctx, tx, &event)
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrLockTimeout) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revert highlights")
	}

	for i := range revertedRows {
		s.publishHighlight(models.KindUpdate, &revertedRows[i])
	}
	return &dto.RevertReport{Reverted: len(reverted)}, nil
}

// DeleteAssignment removes an assignment together with its link rows.
func (s *LifecycleService) DeleteAssignment(ctx context.Context, assignmentID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return appErrors.ErrForbidden
	}
	current, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if current.SchoolID != actor.SchoolID {
		return appErrors.ErrForbidden
	}
	rows, err := s.assignments.Delete(ctx, assignmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	if rows == 0 {
		return appErrors.ErrNotFound
	}

	s.publishAssignment(models.KindDelete, current)
	return nil
}

func (s *LifecycleService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

// nextLate applies the lateness rules: late sticks once set, completion
// never sets it, and a reopened → assigned cycle starts a clean slate.
func nextLate(current *models.Assignment, to models.AssignmentStatus, now time.Time) bool {
	if current.Status == models.AssignmentReopened && to == models.AssignmentAssigned {
		return false
	}
	if current.Late {
		return true
	}
	return now.After(current.DueAt) && to != models.AssignmentCompleted
}

func (s *LifecycleService) transitionEvent(updated *models.Assignment, actorID string, from, to models.AssignmentStatus, note string) models.AssignmentEvent {
	if to == models.AssignmentReopened {
		return models.NewReopenEvent(updated.ID, actorID, models.ReopenMeta{ReopenCount: updated.ReopenCount, Note: note})
	}
	return models.NewStatusChangeEvent(updated.ID, actorID, from, to, models.StatusChangeMeta{Note: note})
}

func (s *LifecycleService) translateTransitionError(ctx context.Context, assignmentID string, err error) error {
	if errors.Is(err, errCASLost) {
		current, readErr := s.assignments.GetByID(ctx, assignmentID)
		if readErr != nil {
			if errors.Is(readErr, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
			}
			return appErrors.Clone(appErrors.ErrConflict, "assignment status changed concurrently")
		}
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrConflict, "assignment status changed concurrently"),
			map[string]interface{}{"current_status": current.Status},
		)
	}
	if appErrors.Is(err, appErrors.ErrLockTimeout) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
}

func (s *LifecycleService) publishAssignment(kind models.EventKind, assignment *models.Assignment) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(assignment)
	if err != nil {
		s.logger.Warn("failed to encode assignment event", zap.Error(err))
		payload = nil
	}
	s.publisher.Publish(models.ChangeEvent{
		EntityType: models.EntityAssignment,
		Kind:       kind,
		EntityID:   assignment.ID,
		SchoolID:   assignment.SchoolID,
		TeacherID:  assignment.CreatedByTeacherID,
		StudentID:  assignment.StudentID,
		Payload:    payload,
	})
	s.metrics.ObserveFeedEvent(models.EntityAssignment, kind)
}

func (s *LifecycleService) publishHighlight(kind models.EventKind, highlight *models.Highlight) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(highlight)
	if err != nil {
		s.logger.Warn("failed to encode highlight event", zap.Error(err))
		payload = nil
	}
	s.publisher.Publish(models.ChangeEvent{
		EntityType: models.EntityHighlight,
		Kind:       kind,
		EntityID:   highlight.ID,
		SchoolID:   highlight.SchoolID,
		TeacherID:  highlight.TeacherID,
		StudentID:  highlight.StudentID,
		Payload:    payload,
	})
	s.metrics.ObserveFeedEvent(models.EntityHighlight, kind)
}
