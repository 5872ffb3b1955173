package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tahfiz-app/tahfiz-api/internal/dto"
	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/repository"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
	"github.com/tahfiz-app/tahfiz-api/pkg/feed"
)

type highlightStore interface {
	Create(ctx context.Context, highlight *models.Highlight) error
	GetByID(ctx context.Context, id string) (*models.Highlight, error)
	UpdateOpen(ctx context.Context, highlight *models.Highlight) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	List(ctx context.Context, filter repository.HighlightFilter) ([]models.Highlight, error)
}

// HighlightService owns highlight reads and teacher edits. Completion state
// is out of reach here: only the lifecycle engine's cascade closes
// highlights, so no request through this service can set gold.
type HighlightService struct {
	repo      highlightStore
	publisher feed.Publisher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewHighlightService constructs the service.
func NewHighlightService(repo highlightStore, publisher feed.Publisher, metrics *MetricsService, logger *zap.Logger) *HighlightService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HighlightService{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		validator: validator.New(),
		logger:    logger,
	}
}

// Create marks a new mistake span for a student.
func (s *HighlightService) Create(ctx context.Context, req dto.CreateHighlightRequest, actor *models.JWTClaims) (*models.Highlight, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid highlight payload")
	}
	if req.TokenStart > req.TokenEnd {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token_start must not exceed token_end")
	}
	mistakeType := models.MistakeType(req.MistakeType)
	if !models.ValidMistakeType(mistakeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown mistake_type")
	}
	if req.Color == models.ColorGold {
		return nil, appErrors.Clone(appErrors.ErrValidation, "gold is reserved for completion")
	}

	teacherID := req.TeacherID
	if teacherID == "" {
		teacherID = actor.UserID
	}

	highlight := &models.Highlight{
		SchoolID:    actor.SchoolID,
		TeacherID:   teacherID,
		StudentID:   req.StudentID,
		ScriptID:    req.ScriptID,
		AyahID:      req.AyahID,
		TokenStart:  req.TokenStart,
		TokenEnd:    req.TokenEnd,
		MistakeType: mistakeType,
		Color:       req.Color,
	}
	if err := s.repo.Create(ctx, highlight); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create highlight")
	}

	s.publish(models.KindInsert, highlight)
	return highlight, nil
}

// Get returns one highlight enforcing school scope.
func (s *HighlightService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Highlight, error) {
	highlight, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || highlight.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	return highlight, nil
}

// Update applies teacher edits to an open highlight. Closed highlights are
// immutable outside the cascade; attempts surface as CONFLICT.
func (s *HighlightService) Update(ctx context.Context, id string, req dto.UpdateHighlightRequest, actor *models.JWTClaims) (*models.Highlight, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	highlight, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if highlight.SchoolID != actor.SchoolID {
		return nil, appErrors.ErrForbidden
	}
	if highlight.IsClosed() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "highlight is completed; reopen its assignment first")
	}

	if req.Color != nil && *req.Color == models.ColorGold {
		return nil, appErrors.Clone(appErrors.ErrValidation, "gold is reserved for completion")
	}
	if req.ScriptID != nil {
		highlight.ScriptID = *req.ScriptID
	}
	if req.AyahID != nil {
		highlight.AyahID = *req.AyahID
	}
	if req.TokenStart != nil {
		highlight.TokenStart = *req.TokenStart
	}
	if req.TokenEnd != nil {
		highlight.TokenEnd = *req.TokenEnd
	}
	if highlight.TokenStart > highlight.TokenEnd {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token_start must not exceed token_end")
	}
	if req.MistakeType != nil {
		mistakeType := models.MistakeType(*req.MistakeType)
		if !models.ValidMistakeType(mistakeType) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown mistake_type")
		}
		highlight.MistakeType = mistakeType
	}
	if req.Color != nil {
		highlight.Color = *req.Color
	}

	rows, err := s.repo.UpdateOpen(ctx, highlight)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update highlight")
	}
	if rows == 0 {
		// The row moved under us: deleted, or closed by a racing cascade.
		if _, err := s.load(ctx, id); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "highlight changed concurrently, re-read and retry")
	}

	s.publish(models.KindUpdate, highlight)
	return highlight, nil
}

// Delete removes a highlight. Deletion is a teacher/admin action and is
// independent of assignment state.
func (s *HighlightService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return appErrors.ErrForbidden
	}
	highlight, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if highlight.SchoolID != actor.SchoolID {
		return appErrors.ErrForbidden
	}
	rows, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete highlight")
	}
	if rows == 0 {
		return appErrors.ErrNotFound
	}

	s.publish(models.KindDelete, highlight)
	return nil
}

// List serves the snapshot read used by dashboard reconcilers on attach.
// Students only ever see their own highlights; teachers default to their
// own marking unless they filter by student.
func (s *HighlightService) List(ctx context.Context, query dto.HighlightQuery, actor *models.JWTClaims) ([]models.Highlight, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := repository.HighlightFilter{
		StudentID: query.StudentID,
		TeacherID: query.TeacherID,
		SchoolID:  actor.SchoolID,
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
		filter.TeacherID = ""
	case models.RoleTeacher:
		if filter.StudentID == "" && filter.TeacherID == "" {
			filter.TeacherID = actor.UserID
		}
	case models.RoleParent, models.RoleAdmin, models.RoleSuperAdmin:
		// school-wide filter applies
	default:
		return nil, appErrors.ErrForbidden
	}
	highlights, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list highlights")
	}
	return highlights, nil
}

func (s *HighlightService) load(ctx context.Context, id string) (*models.Highlight, error) {
	highlight, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "highlight not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load highlight")
	}
	return highlight, nil
}

func (s *HighlightService) publish(kind models.EventKind, highlight *models.Highlight) {
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
