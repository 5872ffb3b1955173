package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tahfiz-app/tahfiz-api/internal/dto"
	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/repository"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
)

type highlightRepoStub struct {
	highlights map[string]*models.Highlight
	filter     repository.HighlightFilter
	updateRows int64
}

func newHighlightRepoStub() *highlightRepoStub {
	return &highlightRepoStub{highlights: make(map[string]*models.Highlight), updateRows: 1}
}

func (r *highlightRepoStub) Create(ctx context.Context, highlight *models.Highlight) error {
	if highlight.ID == "" {
		highlight.ID = "h-" + highlight.StudentID
	}
	copy := *highlight
	r.highlights[highlight.ID] = &copy
	return nil
}

func (r *highlightRepoStub) GetByID(ctx context.Context, id string) (*models.Highlight, error) {
	if h, ok := r.highlights[id]; ok {
		copy := *h
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (r *highlightRepoStub) UpdateOpen(ctx context.Context, highlight *models.Highlight) (int64, error) {
	if r.updateRows > 0 {
		if stored, ok := r.highlights[highlight.ID]; ok && !stored.IsClosed() {
			copy := *highlight
			r.highlights[highlight.ID] = &copy
			return 1, nil
		}
		return 0, nil
	}
	return r.updateRows, nil
}

func (r *highlightRepoStub) Delete(ctx context.Context, id string) (int64, error) {
	if _, ok := r.highlights[id]; !ok {
		return 0, nil
	}
	delete(r.highlights, id)
	return 1, nil
}

func (r *highlightRepoStub) List(ctx context.Context, filter repository.HighlightFilter) ([]models.Highlight, error) {
	r.filter = filter
	result := make([]models.Highlight, 0, len(r.highlights))
	for _, h := range r.highlights {
		result = append(result, *h)
	}
	return result, nil
}

func newHighlightFixture() (*highlightRepoStub, *publisherStub, *HighlightService) {
	repo := newHighlightRepoStub()
	publisher := &publisherStub{}
	svc := NewHighlightService(repo, publisher, nil, nil)
	return repo, publisher, svc
}

func validCreateRequest() dto.CreateHighlightRequest {
	return dto.CreateHighlightRequest{
		StudentID:   "student-1",
		ScriptID:    "uthmani",
		AyahID:      15,
		TokenStart:  2,
		TokenEnd:    5,
		MistakeType: string(models.MistakeTajweed),
		Color:       "red",
	}
}

func TestHighlightCreate(t *testing.T) {
	repo, publisher, svc := newHighlightFixture()
	actor := teacherClaims()

	highlight, err := svc.Create(context.Background(), validCreateRequest(), actor)
	require.NoError(t, err)
	require.Equal(t, "school-1", highlight.SchoolID)
	require.Equal(t, "teacher-1", highlight.TeacherID)
	require.False(t, highlight.IsClosed())
	require.Len(t, repo.highlights, 1)

	require.Len(t, publisher.events, 1)
	require.Equal(t, models.EntityHighlight, publisher.events[0].EntityType)
	require.Equal(t, models.KindInsert, publisher.events[0].Kind)
}

func TestHighlightCreateRejectsGoldAndBadRanges(t *testing.T) {
	_, _, svc := newHighlightFixture()
	actor := teacherClaims()
	ctx := context.Background()

	req := validCreateRequest()
	req.Color = models.ColorGold
	_, err := svc.Create(ctx, req, actor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req = validCreateRequest()
	req.TokenStart = 7
	req.TokenEnd = 3
	_, err = svc.Create(ctx, req, actor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req = validCreateRequest()
	req.MistakeType = "spelling"
	_, err = svc.Create(ctx, req, actor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(ctx, validCreateRequest(), studentClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestHighlightUpdateClosedIsConflict(t *testing.T) {
	repo, _, svc := newHighlightFixture()
	actor := teacherClaims()

	now := time.Now().UTC()
	closed := &models.Highlight{
		ID: "h-1", SchoolID: "school-1", TeacherID: "teacher-1", StudentID: "student-1",
		ScriptID: "uthmani", AyahID: 3, Color: "red",
	}
	closed.Close("teacher-1", now)
	repo.highlights["h-1"] = closed

	color := "blue"
	_, err := svc.Update(context.Background(), "h-1", dto.UpdateHighlightRequest{Color: &color}, actor)
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.True(t, repo.highlights["h-1"].IsClosed())
}

func TestHighlightUpdateRejectsGold(t *testing.T) {
	repo, _, svc := newHighlightFixture()
	repo.highlights["h-1"] = &models.Highlight{
		ID: "h-1", SchoolID: "school-1", TeacherID: "teacher-1", StudentID: "student-1",
		ScriptID: "uthmani", AyahID: 3, Color: "red", MistakeType: models.MistakeLetter,
	}

	gold := models.ColorGold
	_, err := svc.Update(context.Background(), "h-1", dto.UpdateHighlightRequest{Color: &gold}, teacherClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestHighlightUpdateConcurrentChangeConflicts(t *testing.T) {
	repo, _, svc := newHighlightFixture()
	repo.highlights["h-1"] = &models.Highlight{
		ID: "h-1", SchoolID: "school-1", TeacherID: "teacher-1", StudentID: "student-1",
		ScriptID: "uthmani", AyahID: 3, Color: "red", MistakeType: models.MistakeLetter,
	}
	repo.updateRows = 0

	color := "blue"
	_, err := svc.Update(context.Background(), "h-1", dto.UpdateHighlightRequest{Color: &color}, teacherClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestHighlightListScoping(t *testing.T) {
	repo, _, svc := newHighlightFixture()
	ctx := context.Background()

	// Students are always pinned to their own stream regardless of filters.
	_, err := svc.List(ctx, dto.HighlightQuery{StudentID: "student-9"}, studentClaims())
	require.NoError(t, err)
	require.Equal(t, "student-1", repo.filter.StudentID)
	require.Empty(t, repo.filter.TeacherID)
	require.Equal(t, "school-1", repo.filter.SchoolID)

	// Teachers default to their own marking.
	_, err = svc.List(ctx, dto.HighlightQuery{}, teacherClaims())
	require.NoError(t, err)
	require.Equal(t, "teacher-1", repo.filter.TeacherID)

	// Explicit student filter overrides the teacher default.
	_, err = svc.List(ctx, dto.HighlightQuery{StudentID: "student-2"}, teacherClaims())
	require.NoError(t, err)
	require.Equal(t, "student-2", repo.filter.StudentID)
	require.Empty(t, repo.filter.TeacherID)

	// Admins see the whole school.
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, SchoolID: "school-1"}
	_, err = svc.List(ctx, dto.HighlightQuery{}, admin)
	require.NoError(t, err)
	require.Empty(t, repo.filter.StudentID)
	require.Empty(t, repo.filter.TeacherID)
	require.Equal(t, "school-1", repo.filter.SchoolID)
}

func TestHighlightDelete(t *testing.T) {
	repo, publisher, svc := newHighlightFixture()
	repo.highlights["h-1"] = &models.Highlight{
		ID: "h-1", SchoolID: "school-1", TeacherID: "teacher-1", StudentID: "student-1",
		Color: "red",
	}

	require.NoError(t, svc.Delete(context.Background(), "h-1", teacherClaims()))
	require.Empty(t, repo.highlights)
	require.Len(t, publisher.events, 1)
	require.Equal(t, models.KindDelete, publisher.events[0].Kind)

	err := svc.Delete(context.Background(), "h-1", teacherClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
