package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/tahfiz-app/tahfiz-api/internal/dto"
	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/repository"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
)

// engineState is the shared backing store for the lifecycle stubs. Transact
// snapshots and restores it wholesale so a failed closure rolls everything
// back, mirroring the real transactional behavior.
type engineState struct {
	assignments map[string]*models.Assignment
	events      []models.AssignmentEvent
	highlights  map[string]*models.Highlight
	links       map[string][]string
}

func newEngineState() *engineState {
	return &engineState{
		assignments: make(map[string]*models.Assignment),
		highlights:  make(map[string]*models.Highlight),
		links:       make(map[string][]string),
	}
}

func (s *engineState) clone() *engineState {
	c := newEngineState()
	for id, a := range s.assignments {
		copy := *a
		c.assignments[id] = &copy
	}
	for id, h := range s.highlights {
		copy := *h
		c.highlights[id] = &copy
	}
	for id, ids := range s.links {
		c.links[id] = append([]string(nil), ids...)
	}
	c.events = append([]models.AssignmentEvent(nil), s.events...)
	return c
}

func (s *engineState) restore(from *engineState) {
	s.assignments = from.assignments
	s.events = from.events
	s.highlights = from.highlights
	s.links = from.links
}

type assignmentStoreStub struct {
	state           *engineState
	failInsertEvent error
	forceCASMiss    bool
}

func (a *assignmentStoreStub) CreateTx(ctx context.Context, tx *sqlx.Tx, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = "assignment-" + assignment.StudentID
	}
	copy := *assignment
	a.state.assignments[assignment.ID] = &copy
	return nil
}

func (a *assignmentStoreStub) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if assignment, ok := a.state.assignments[id]; ok {
		copy := *assignment
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (a *assignmentStoreStub) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Assignment, error) {
	return a.GetByID(ctx, id)
}

func (a *assignmentStoreStub) UpdateStatusCAS(ctx context.Context, tx *sqlx.Tx, params repository.UpdateStatusParams) (int64, error) {
	if a.forceCASMiss {
		return 0, nil
	}
	assignment, ok := a.state.assignments[params.ID]
	if !ok || assignment.Status != params.FromStatus {
		return 0, nil
	}
	assignment.Status = params.ToStatus
	assignment.Late = params.Late
	assignment.ReopenCount = params.ReopenCount
	return 1, nil
}

func (a *assignmentStoreStub) InsertEventTx(ctx context.Context, tx *sqlx.Tx, event *models.AssignmentEvent) error {
	if a.failInsertEvent != nil {
		return a.failInsertEvent
	}
	a.state.events = append(a.state.events, *event)
	return nil
}

func (a *assignmentStoreStub) ListEvents(ctx context.Context, assignmentID string) ([]models.AssignmentEvent, error) {
	var events []models.AssignmentEvent
	for _, event := range a.state.events {
		if event.AssignmentID == assignmentID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (a *assignmentStoreStub) Delete(ctx context.Context, id string) (int64, error) {
	if _, ok := a.state.assignments[id]; !ok {
		return 0, nil
	}
	delete(a.state.assignments, id)
	delete(a.state.links, id)
	return 1, nil
}

func (a *assignmentStoreStub) Transact(ctx context.Context, fn func(*sqlx.Tx) error) error {
	snapshot := a.state.clone()
	if err := fn(nil); err != nil {
		a.state.restore(snapshot)
		return err
	}
	return nil
}

type linkStoreStub struct {
	state    *engineState
	failLink error
}

func (l *linkStoreStub) Link(ctx context.Context, assignmentID, highlightID string) (bool, error) {
	if l.failLink != nil {
		return false, l.failLink
	}
	for _, existing := range l.state.links[assignmentID] {
		if existing == highlightID {
			return false, nil
		}
	}
	l.state.links[assignmentID] = append(l.state.links[assignmentID], highlightID)
	return true, nil
}

func (l *linkStoreStub) ListHighlightIDs(ctx context.Context, assignmentID string) ([]string, error) {
	return append([]string(nil), l.state.links[assignmentID]...), nil
}

func (l *linkStoreStub) ListHighlightIDsTx(ctx context.Context, tx *sqlx.Tx, assignmentID string) ([]string, error) {
	return l.ListHighlightIDs(ctx, assignmentID)
}

func (l *linkStoreStub) ListLinkedHighlights(ctx context.Context, assignmentID string) ([]models.Highlight, error) {
	var highlights []models.Highlight
	for _, id := range l.state.links[assignmentID] {
		if h, ok := l.state.highlights[id]; ok {
			highlights = append(highlights, *h)
		}
	}
	return highlights, nil
}

type cascadeStoreStub struct {
	state        *engineState
	failComplete error
}

func (c *cascadeStoreStub) GetByID(ctx context.Context, id string) (*models.Highlight, error) {
	if h, ok := c.state.highlights[id]; ok {
		copy := *h
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (c *cascadeStoreStub) GetManyTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Highlight, error) {
	var highlights []models.Highlight
	for _, id := range ids {
		if h, ok := c.state.highlights[id]; ok {
			highlights = append(highlights, *h)
		}
	}
	return highlights, nil
}

func (c *cascadeStoreStub) CompleteTx(ctx context.Context, tx *sqlx.Tx, ids []string, actorID string, now time.Time) ([]string, error) {
	if c.failComplete != nil {
		return nil, c.failComplete
	}
	var closed []string
	for _, id := range ids {
		h, ok := c.state.highlights[id]
		if !ok {
			continue
		}
		if h.Close(actorID, now) {
			closed = append(closed, id)
		}
	}
	return closed, nil
}

func (c *cascadeStoreStub) RevertTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]string, error) {
	var reverted []string
	for _, id := range ids {
		h, ok := c.state.highlights[id]
		if !ok {
			continue
		}
		if h.Reopen() {
			reverted = append(reverted, id)
		}
	}
	return reverted, nil
}

type publisherStub struct {
	events []models.ChangeEvent
}

func (p *publisherStub) Publish(event models.ChangeEvent) {
	p.events = append(p.events, event)
}

type lifecycleFixture struct {
	state       *engineState
	assignments *assignmentStoreStub
	links       *linkStoreStub
	highlights  *cascadeStoreStub
	publisher   *publisherStub
	svc         *LifecycleService
}

func newLifecycleFixture(opts ...LifecycleOption) *lifecycleFixture {
	state := newEngineState()
	f := &lifecycleFixture{
		state:       state,
		assignments: &assignmentStoreStub{state: state},
		links:       &linkStoreStub{state: state},
		highlights:  &cascadeStoreStub{state: state},
		publisher:   &publisherStub{},
	}
	f.svc = NewLifecycleService(f.assignments, f.links, f.highlights, f.publisher, nil, nil, opts...)
	return f
}

func (f *lifecycleFixture) seedAssignment(id string, status models.AssignmentStatus, late bool, due time.Time) *models.Assignment {
	assignment := &models.Assignment{
		ID:                 id,
		SchoolID:           "school-1",
		CreatedByTeacherID: "teacher-1",
		StudentID:          "student-1",
		Title:              "Surah Al-Mulk 1-10",
		Status:             status,
		DueAt:              due,
		Late:               late,
		CreatedAt:          time.Now().UTC(),
	}
	f.state.assignments[id] = assignment
	return assignment
}

func (f *lifecycleFixture) seedHighlight(id, color string) *models.Highlight {
	h := &models.Highlight{
		ID:          id,
		SchoolID:    "school-1",
		TeacherID:   "teacher-1",
		StudentID:   "student-1",
		ScriptID:    "uthmani",
		AyahID:      12,
		TokenStart:  0,
		TokenEnd:    3,
		MistakeType: models.MistakeTajweed,
		Color:       color,
		CreatedAt:   time.Now().UTC(),
	}
	if color == models.ColorGold {
		prev := "red"
		now := time.Now().UTC()
		actor := "teacher-1"
		h.PreviousColor = &prev
		h.CompletedAt = &now
		h.CompletedBy = &actor
	}
	f.state.highlights[id] = h
	return h
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher, SchoolID: "school-1"}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent, SchoolID: "school-1"}
}

func TestLifecycleFullWalk(t *testing.T) {
	f := newLifecycleFixture()
	actor := teacherClaims()
	ctx := context.Background()

	assignment, err := f.svc.CreateAssignment(ctx, dto.CreateAssignmentRequest{
		StudentID: "student-1",
		Title:     "Surah Al-Mulk 1-10",
		DueAt:     time.Now().Add(24 * time.Hour),
	}, actor)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentAssigned, assignment.Status)

	walk := [][2]models.AssignmentStatus{
		{models.AssignmentAssigned, models.AssignmentViewed},
		{models.AssignmentViewed, models.AssignmentSubmitted},
		{models.AssignmentSubmitted, models.AssignmentReviewed},
	}
	for _, edge := range walk {
		updated, err := f.svc.Transition(ctx, assignment.ID, edge[0], edge[1], actor, "")
		require.NoError(t, err)
		require.Equal(t, edge[1], updated.Status)
	}

	result, err := f.svc.Complete(ctx, assignment.ID, actor)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentCompleted, result.Assignment.Status)

	reopened, err := f.svc.Reopen(ctx, assignment.ID, actor, "needs another pass")
	require.NoError(t, err)
	require.Equal(t, models.AssignmentReopened, reopened.Status)
	require.Equal(t, 1, reopened.ReopenCount)

	restarted, err := f.svc.Transition(ctx, assignment.ID, models.AssignmentReopened, models.AssignmentAssigned, actor, "")
	require.NoError(t, err)
	require.Equal(t, models.AssignmentAssigned, restarted.Status)
	require.Equal(t, 1, restarted.ReopenCount)

	events, err := f.svc.ListEvents(ctx, assignment.ID, actor)
	require.NoError(t, err)
	// created + 3 walk edges + completion + reopen + restart
	require.Len(t, events, 7)
	require.Equal(t, models.EventAssignmentCreated, events[0].EventType)
	require.Equal(t, models.EventCompletion, events[4].EventType)
	require.Equal(t, models.EventReopen, events[5].EventType)
}

func TestCreateAssignmentRowAndEventCommitTogether(t *testing.T) {
	f := newLifecycleFixture()
	f.assignments.failInsertEvent = errors.New("disk full")

	_, err := f.svc.CreateAssignment(context.Background(), dto.CreateAssignmentRequest{
		StudentID: "student-1",
		Title:     "Surah Al-Mulk 1-10",
		DueAt:     time.Now().Add(24 * time.Hour),
	}, teacherClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrInternal))

	// The failed event append rolled the row back too: no assignment exists
	// without the opening entry of its audit trail.
	require.Empty(t, f.state.assignments)
	require.Empty(t, f.state.events)
	require.Empty(t, f.publisher.events)
}

func TestTransitionToCompletedRunsCascade(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.seedAssignment("a-1", models.AssignmentReviewed, false, time.Now().Add(time.Hour))
	f.seedHighlight("h-1", "red")
	f.state.links["a-1"] = []string{"h-1"}

	// Driving reviewed -> completed through the generic transition endpoint
	// must close linked highlights exactly like the completion operation.
	updated, err := f.svc.Transition(ctx, "a-1", models.AssignmentReviewed, models.AssignmentCompleted, teacherClaims(), "")
	require.NoError(t, err)
	require.Equal(t, models.AssignmentCompleted, updated.Status)
	require.Equal(t, models.ColorGold, f.state.highlights["h-1"].Color)
	require.True(t, f.state.highlights["h-1"].CheckInvariant())

	events, err := f.svc.ListEvents(ctx, "a-1", teacherClaims())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventCompletion, events[0].EventType)

	// Completion stays a staff action no matter which endpoint drives it.
	f.seedAssignment("a-2", models.AssignmentReviewed, false, time.Now().Add(time.Hour))
	_, err = f.svc.Transition(ctx, "a-2", models.AssignmentReviewed, models.AssignmentCompleted, studentClaims(), "")
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	f := newLifecycleFixture()
	f.seedAssignment("a-1", models.AssignmentAssigned, false, time.Now().Add(time.Hour))

	_, err := f.svc.Transition(context.Background(), "a-1", models.AssignmentAssigned, models.AssignmentSubmitted, teacherClaims(), "")
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestTransitionStaleExpectedFromConflicts(t *testing.T) {
	f := newLifecycleFixture()
	f.seedAssignment("a-1", models.AssignmentViewed, false, time.Now().Add(time.Hour))

	_, err := f.svc.Transition(context.Background(), "a-1", models.AssignmentAssigned, models.AssignmentViewed, teacherClaims(), "")
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, models.AssignmentViewed, details["current_status"])

	// Nothing moved.
	require.Equal(t, models.AssignmentViewed, f.state.assignments["a-1"].Status)
	require.Empty(t, f.state.events)
}

func TestTransitionCASMissConflicts(t *testing.T) {
	f := newLifecycleFixture()
	f.seedAssignment("a-1", models.AssignmentAssigned, false, time.Now().Add(time.Hour))
	f.assignments.forceCASMiss = true

	_, err := f.svc.Transition(context.Background(), "a-1", models.AssignmentAssigned, models.AssignmentViewed, teacherClaims(), "")
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.Empty(t, f.state.events)
}

func TestTransitionUnknownStatusRejected(t *testing.T) {
	f := newLifecycleFixture()
	f.seedAssignment("a-1", models.AssignmentAssigned, false, time.Now().Add(time.Hour))

	_, err := f.svc.Transition(context.Background(), "a-1", "archived", models.AssignmentViewed, teacherClaims(), "")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestLatenessSticksAndResetsOnlyOnRestart(t *testing.T) {
	now := time.Now().UTC()
	f := newLifecycleFixture(WithClock(func() time.Time { return now }))
	actor := teacherClaims()
	ctx := context.Background()

	// Past due: the first transition marks the assignment late.
	f.seedAssignment("a-1", models.AssignmentAssigned, false, now.Add(-time.Hour))
	updated, err := f.svc.Transition(ctx, "a-1", models.AssignmentAssigned, models.AssignmentViewed, actor, "")
	require.NoError(t, err)
	require.True(t, updated.Late)

	// Late is sticky even if due date moves out in the meantime.
	f.state.assignments["a-1"].DueAt = now.Add(time.Hour)
	updated, err = f.svc.Transition(ctx, "a-1", models.AssignmentViewed, models.AssignmentSubmitted, actor, "")
	require.NoError(t, err)
	require.True(t, updated.Late)

	// Completing a past-due on-time assignment never marks it late.
	f.seedAssignment("a-2", models.AssignmentReviewed, false, now.Add(-time.Hour))
	result, err := f.svc.Complete(ctx, "a-2", actor)
	require.NoError(t, err)
	require.False(t, result.Assignment.Late)

	// reopened -> assigned starts a clean slate.
	f.seedAssignment("a-3", models.AssignmentReopened, true, now.Add(-time.Hour))
	updated, err = f.svc.Transition(ctx, "a-3", models.AssignmentReopened, models.AssignmentAssigned, actor, "")
	require.NoError(t, err)
	require.False(t, updated.Late)
}

func TestCompleteCascadeClosesOnlyOpenHighlights(t *testing.T) {
	f := newLifecycleFixture()
	actor := teacherClaims()
	ctx := context.Background()

	f.seedAssignment("a-1", models.AssignmentReviewed, false, time.Now().Add(time.Hour))
	f.seedHighlight("h-1", "red")
	f.seedHighlight("h-2", "blue")
	f.seedHighlight("h-3", models.ColorGold)
	f.state.links["a-1"] = []string{"h-1", "h-2", "h-3"}

	result, err := f.svc.Complete(ctx, "a-1", actor)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentCompleted, result.Assignment.Status)
	require.Equal(t, 2, result.HighlightsCompleted)

	for _, id := range []string{"h-1", "h-2", "h-3"} {
		require.True(t, f.state.highlights[id].IsClosed())
		require.True(t, f.state.highlights[id].CheckInvariant())
	}
	// The already-gold row kept its original previous color.
	require.Equal(t, "red", *f.state.highlights["h-3"].PreviousColor)

	// 2 highlight updates + 1 assignment update on the feed.
	var highlightUpdates, assignmentUpdates int
	for _, event := range f.publisher.events {
		switch event.EntityType {
		case models.EntityHighlight:
			highlightUpdates++
		case models.EntityAssignment:
			assignmentUpdates++
		}
	}
	require.Equal(t, 2, highlightUpdates)
	require.Equal(t, 1, assignmentUpdates)

	events, err := f.svc.ListEvents(ctx, "a-1", actor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventCompletion, events[0].EventType)
}

func TestCompleteRollsBackAtomically(t *testing.T) {
	f := newLifecycleFixture()
	f.seedAssignment("a-1", models.AssignmentReviewed, false, time.Now().Add(time.Hour))
	f.seedHighlight("h-1", "red")
	f.seedHighlight("h-2", "blue")
	f.state.links["a-1"] = []string{"h-1", "h-2"}
	f.assignments.failInsertEvent = errors.New("disk full")

	_, err := f.svc.Complete(context.Background(), "a-1", teacherClaims())
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrCascade))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	require.ElementsMatch(t, []string{"h-1", "h-2"}, details["highlight_ids"])

	// Everything rolled back: status untouched, no highlight went gold.
	require.Equal(t, models.AssignmentReviewed, f.state.assignments["a-1"].Status)
	require.False(t, f.state.highlights["h-1"].IsClosed())
	require.False(t, f.state.highlights["h-2"].IsClosed())
	require.Empty(t, f.state.events)
	require.Empty(t, f.publisher.events)
}

func TestCompleteFromWrongStatus(t *testing.T) {
	f := newLifecycleFixture()
	actor := teacherClaims()

	f.seedAssignment("a-1", models.AssignmentAssigned, false, time.Now().Add(time.Hour))
	_, err := f.svc.Complete(context.Background(), "a-1", actor)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	f.seedAssignment("a-2", models.AssignmentCompleted, false, time.Now().Add(time.Hour))
	_, err = f.svc.Complete(context.Background(), "a-2", actor)
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestLinkHighlightsPartialSuccess(t *testing.T) {
	f := newLifecycleFixture()
	actor := teacherClaims()
	ctx := context.Background()

	f.seedAssignment("a-1", models.AssignmentAssigned, false, time.Now().Add(time.Hour))
	f.seedHighlight("h-1", "red")
	other := f.seedHighlight("h-2", "red")
	other.SchoolID = "school-2"

	report, err := f.svc.LinkHighlights(ctx, "a-1", []string{"h-1", "h-1", "h-2", "h-missing"}, actor)
	require.NoError(t, err)
	require.Equal(t, 1, report.Linked)
	require.Len(t, report.Failed, 2)

	reasons := map[string]string{}
	for _, failure := range report.Failed {
		reasons[failure.HighlightID] = failure.Reason
	}
	require.Contains(t, reasons["h-2"], "different school")
	require.Contains(t, reasons["h-missing"], "not found")

	// Re-linking is idempotent.
	report, err = f.svc.LinkHighlights(ctx, "a-1", []string{"h-1"}, actor)
	require.NoError(t, err)
	require.Equal(t, 0, report.Linked)
	require.Empty(t, report.Failed)
	require.Equal(t, []string{"h-1"}, f.state.links["a-1"])
}

func TestLinkHighlightsBlockedOnCompleted(t *testing.T) {
	f := newLifecycleFixture()
	f.seedAssignment("a-1", models.AssignmentCompleted, false, time.Now().Add(time.Hour))
	f.seedHighlight("h-1", "red")

	_, err := f.svc.LinkHighlights(context.Background(), "a-1", []string{"h-1"}, teacherClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestRevertHighlightsRequiresReopened(t *testing.T) {
	f := newLifecycleFixture()
	actor := teacherClaims()
	ctx := context.Background()

	f.seedAssignment("a-1", models.AssignmentCompleted, false, time.Now().Add(time.Hour))
	_, err := f.svc.RevertHighlights(ctx, "a-1", actor)
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))

	f.seedAssignment("a-2", models.AssignmentReopened, false, time.Now().Add(time.Hour))
	f.seedHighlight("h-1", models.ColorGold)
	f.seedHighlight("h-2", "blue")
	f.state.links["a-2"] = []string{"h-1", "h-2"}

	report, err := f.svc.RevertHighlights(ctx, "a-2", actor)
	require.NoError(t, err)
	require.Equal(t, 1, report.Reverted)
	require.Equal(t, "red", f.state.highlights["h-1"].Color)
	require.True(t, f.state.highlights["h-1"].CheckInvariant())
	require.Equal(t, "blue", f.state.highlights["h-2"].Color)
}

func TestLifecycleRoleAndScopeChecks(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()
	f.seedAssignment("a-1", models.AssignmentReviewed, false, time.Now().Add(time.Hour))

	_, err := f.svc.Complete(ctx, "a-1", studentClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.CreateAssignment(ctx, dto.CreateAssignmentRequest{
		StudentID: "student-1",
		Title:     "Juz Amma review",
		DueAt:     time.Now().Add(time.Hour),
	}, studentClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	foreign := &models.JWTClaims{UserID: "teacher-9", Role: models.RoleTeacher, SchoolID: "school-9"}
	_, err = f.svc.GetAssignment(ctx, "a-1", foreign)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.GetAssignment(ctx, "a-missing", teacherClaims())
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
