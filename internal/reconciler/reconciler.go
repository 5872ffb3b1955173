// Package reconciler merges a snapshot read with the live change feed into
// one consistent local view per dashboard session. Each dashboard (teacher,
// student, parent, admin) runs its own instance; nothing is shared between
// them beyond the feed itself.
package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/pkg/feed"
)

// Entity is anything the reconciler can track by id.
type Entity interface {
	EntityID() string
}

// Snapshotter loads the authoritative snapshot for the session's scope,
// typically the owning store's list endpoint.
type Snapshotter[T Entity] func(ctx context.Context) ([]T, error)

// Feed is the subscription surface of the change-feed broker.
type Feed interface {
	Subscribe(scope models.Scope) *feed.Subscription
	Unsubscribe(sub *feed.Subscription)
}

// Matcher pairs a pending (optimistic) entry with the authoritative entity
// that confirms it.
type Matcher[T Entity] func(pending, confirmed T) bool

// Reconciler maintains the merged view. Steady state never re-fetches; a
// full snapshot re-fetch happens only when the subscription itself drops.
type Reconciler[T Entity] struct {
	scope      models.Scope
	entityType models.EntityType
	source     Feed
	snapshot   Snapshotter[T]
	match      Matcher[T]
	logger     *zap.Logger
	retryDelay time.Duration

	mu       sync.RWMutex
	entities map[string]T
	order    []string
	lastSeq  map[string]uint64
	pending  map[string]T
	sub      *feed.Subscription
	cancel   context.CancelFunc
}

// Option configures a reconciler.
type Option[T Entity] func(*Reconciler[T])

// WithMatcher installs the pending-entry matcher.
func WithMatcher[T Entity](m Matcher[T]) Option[T] {
	return func(r *Reconciler[T]) {
		r.match = m
	}
}

// WithLogger installs a logger.
func WithLogger[T Entity](l *zap.Logger) Option[T] {
	return func(r *Reconciler[T]) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a reconciler for one dashboard session.
func New[T Entity](source Feed, scope models.Scope, entityType models.EntityType, snapshot Snapshotter[T], opts ...Option[T]) *Reconciler[T] {
	r := &Reconciler[T]{
		scope:      scope,
		entityType: entityType,
		source:     source,
		snapshot:   snapshot,
		logger:     zap.NewNop(),
		retryDelay: time.Second,
		entities:   make(map[string]T),
		lastSeq:    make(map[string]uint64),
		pending:    make(map[string]T),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Attach subscribes, loads the snapshot, replays anything that arrived in
// between, then follows the live stream until ctx ends or Detach is called.
// Subscribing before the snapshot read closes the lost-update window: events
// raced against the snapshot sit in the subscription buffer and replay after.
func (r *Reconciler[T]) Attach(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.attach(ctx); err != nil {
		cancel()
		return err
	}
	go r.run(ctx)
	return nil
}

// Detach unsubscribes and discards buffered events.
func (r *Reconciler[T]) Detach() {
	r.mu.Lock()
	cancel := r.cancel
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		r.source.Unsubscribe(sub)
	}
}

// List returns the merged local view: canonical entities in arrival order,
// then any unconfirmed pending entries.
func (r *Reconciler[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]T, 0, len(r.order)+len(r.pending))
	for _, id := range r.order {
		result = append(result, r.entities[id])
	}
	for _, entity := range r.pending {
		result = append(result, entity)
	}
	return result
}

// Get returns a canonical entity by id.
func (r *Reconciler[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.entities[id]
	return entity, ok
}

// StagePending records an optimistic local insert under a client-side key.
// The canonical list is untouched; the entry rides along in List until the
// authoritative event for the same write confirms or the caller drops it.
func (r *Reconciler[T]) StagePending(key string, entity T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = entity
}

// DropPending discards an optimistic entry, e.g. after the server rejected
// the write.
func (r *Reconciler[T]) DropPending(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
}

// PendingCount reports unconfirmed optimistic entries.
func (r *Reconciler[T]) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

func (r *Reconciler[T]) attach(ctx context.Context) error {
	sub := r.source.Subscribe(r.scope)

	snap, err := r.snapshot(ctx)
	if err != nil {
		r.source.Unsubscribe(sub)
		return err
	}

	r.mu.Lock()
	r.entities = make(map[string]T, len(snap))
	r.order = make([]string, 0, len(snap))
	r.lastSeq = make(map[string]uint64)
	for _, entity := range snap {
		id := entity.EntityID()
		if _, exists := r.entities[id]; !exists {
			r.order = append(r.order, id)
		}
		r.entities[id] = entity
	}
	r.sub = sub
	r.mu.Unlock()

	// Replay events buffered while the snapshot loaded.
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			r.apply(event)
		default:
			return nil
		}
	}
}

func (r *Reconciler[T]) run(ctx context.Context) {
	for {
		r.mu.RLock()
		sub := r.sub
		r.mu.RUnlock()
		if sub == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				// The broker dropped us (or the feed errored). Recover with
				// a fresh snapshot; the session never sees the gap.
				r.reattach(ctx)
				continue
			}
			r.apply(event)
		}
	}
}

func (r *Reconciler[T]) reattach(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.attach(ctx); err == nil {
			return
		} else {
			r.logger.Warn("reconciler re-attach failed, retrying",
				zap.Error(err),
				zap.String("scope_kind", string(r.scope.Kind)),
				zap.String("scope_id", r.scope.ID),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retryDelay):
		}
	}
}

// apply merges one feed event into the local view. Sequences are issued by
// the originating broker, so the dedupe window is keyed per (origin, entity
// id): duplicate deliveries are no-ops, and counters from different
// instances never mask each other's events.
func (r *Reconciler[T]) apply(event models.ChangeEvent) {
	if event.EntityType != r.entityType {
		return
	}
	if !r.inScope(event) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seqKey := event.Origin + ":" + event.EntityID
	if event.Sequence != 0 && event.Sequence <= r.lastSeq[seqKey] {
		return
	}
	r.lastSeq[seqKey] = event.Sequence

	switch event.Kind {
	case models.KindDelete:
		r.remove(event.EntityID)
	case models.KindInsert, models.KindUpdate:
		var entity T
		if err := json.Unmarshal(event.Payload, &entity); err != nil {
			r.logger.Warn("reconciler dropped malformed payload",
				zap.Error(err),
				zap.String("entity_id", event.EntityID),
			)
			return
		}
		r.upsert(entity)
		r.resolvePending(entity)
	}
}

// upsert applies the self-healing merge rule: insert of a present id acts
// as update, update of an absent id acts as insert.
func (r *Reconciler[T]) upsert(entity T) {
	id := entity.EntityID()
	if _, exists := r.entities[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entities[id] = entity
}

func (r *Reconciler[T]) remove(id string) {
	if _, exists := r.entities[id]; !exists {
		return
	}
	delete(r.entities, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Reconciler[T]) resolvePending(confirmed T) {
	if r.match == nil || len(r.pending) == 0 {
		return
	}
	for key, entry := range r.pending {
		if r.match(entry, confirmed) {
			delete(r.pending, key)
		}
	}
}

// inScope discards events whose embedded ids do not match the session's
// boundary. The broker already fans out per scope, but the feed contract is
// a coarse filter and the consumer owns the final check.
func (r *Reconciler[T]) inScope(event models.ChangeEvent) bool {
	switch r.scope.Kind {
	case models.ScopeStudent:
		return event.StudentID == r.scope.ID
	case models.ScopeTeacher:
		return event.TeacherID == r.scope.ID
	case models.ScopeSchool:
		return event.SchoolID == r.scope.ID
	}
	return false
}
