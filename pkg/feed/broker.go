package feed

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
)

// Publisher accepts change events for fan-out.
type Publisher interface {
	Publish(event models.ChangeEvent)
}

// Subscription is one scope-filtered stream of change events. Delivery is
// at-least-once; duplicates are legal and consumers dedupe on
// (origin, entity id, sequence).
type Subscription struct {
	scope  models.Scope
	events chan models.ChangeEvent

	mu     sync.Mutex
	closed bool
}

// Events returns the delivery channel. The channel is closed when the
// subscriber is detached or dropped for falling behind; a closed channel
// means the consumer must re-attach from a fresh snapshot.
func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.events
}

// Scope returns the boundary this subscription filters on.
func (s *Subscription) Scope() models.Scope {
	return s.scope
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// tryDeliver sends without blocking. A full buffer fails the delivery.
func (s *Subscription) tryDeliver(event models.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// BrokerConfig tunes the in-process broker.
type BrokerConfig struct {
	// SubscriberBuffer is the per-subscription channel depth.
	SubscriberBuffer int
	Logger           *zap.Logger
}

// Broker is the in-process change-feed publisher. Events fan out to every
// subscription whose scope matches one of the event's scope keys. Ordering
// is per-entity only: sequences are issued per entity id and events for
// different entities may interleave arbitrarily.
type Broker struct {
	origin string
	buffer int
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[models.Scope]map[*Subscription]struct{}

	seqMu sync.Mutex
	seqs  map[string]uint64
}

// NewBroker builds a broker with its own origin identity.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Broker{
		origin: uuid.NewString(),
		buffer: cfg.SubscriberBuffer,
		logger: cfg.Logger,
		subs:   make(map[models.Scope]map[*Subscription]struct{}),
		seqs:   make(map[string]uint64),
	}
}

// Origin identifies this broker instance on the relay channel.
func (b *Broker) Origin() string {
	return b.origin
}

// Subscribe registers a stream for the given scope key.
func (b *Broker) Subscribe(scope models.Scope) *Subscription {
	sub := &Subscription{
		scope:  scope,
		events: make(chan models.ChangeEvent, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[scope]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[scope] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the stream and discards anything still buffered.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if set, ok := b.subs[sub.scope]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.scope)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish sequences the event (unless it already carries a sequence from a
// remote origin) and fans it out to the matching scope indexes. Subscribers
// whose buffer is full are dropped: their channel closes and the client
// falls back to a snapshot re-attach, preserving at-least-once semantics
// without blocking writers.
func (b *Broker) Publish(event models.ChangeEvent) {
	if event.Origin == "" {
		event.Origin = b.origin
	}
	if event.Origin == b.origin && event.Sequence == 0 {
		event.Sequence = b.nextSequence(string(event.EntityType) + ":" + event.EntityID)
	}

	var dropped []*Subscription

	b.mu.RLock()
	for _, scope := range event.Scopes() {
		for sub := range b.subs[scope] {
			if !sub.tryDeliver(event) {
				dropped = append(dropped, sub)
			}
		}
	}
	b.mu.RUnlock()

	for _, sub := range dropped {
		b.logger.Warn("feed subscriber fell behind, dropping",
			zap.String("scope_kind", string(sub.scope.Kind)),
			zap.String("scope_id", sub.scope.ID),
		)
		b.Unsubscribe(sub)
	}
}

// SubscriberCount reports how many streams are attached for a scope.
func (b *Broker) SubscriberCount(scope models.Scope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[scope])
}

func (b *Broker) nextSequence(entityKey string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	b.seqs[entityKey]++
	return b.seqs[entityKey]
}
