package models

import (
	"encoding/json"
	"time"
)

// AssignmentEventType enumerates the audit event kinds. Closed set: every
// meta payload is keyed by one of these and carries only the fields that
// transition needs.
type AssignmentEventType string

const (
	EventStatusChange      AssignmentEventType = "status_change"
	EventCompletion        AssignmentEventType = "completion"
	EventReopen            AssignmentEventType = "reopen"
	EventHighlightsLinked  AssignmentEventType = "highlights_linked"
	EventHighlightsRevert  AssignmentEventType = "highlights_reverted"
	EventAssignmentCreated AssignmentEventType = "created"
)

// ValidAssignmentEventType reports whether the value is part of the enum.
func ValidAssignmentEventType(t AssignmentEventType) bool {
	switch t {
	case EventStatusChange, EventCompletion, EventReopen,
		EventHighlightsLinked, EventHighlightsRevert, EventAssignmentCreated:
		return true
	}
	return false
}

// AssignmentEvent is one append-only audit record of a transition. Rows are
// never updated or deleted; for every status change exactly one event exists
// with matching from/to.
type AssignmentEvent struct {
	ID           string              `db:"id" json:"id"`
	AssignmentID string              `db:"assignment_id" json:"assignment_id"`
	EventType    AssignmentEventType `db:"event_type" json:"event_type"`
	ActorUserID  string              `db:"actor_user_id" json:"actor_user_id"`
	FromStatus   AssignmentStatus    `db:"from_status" json:"from_status"`
	ToStatus     AssignmentStatus    `db:"to_status" json:"to_status"`
	Meta         json.RawMessage     `db:"meta" json:"meta,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// StatusChangeMeta annotates a plain transition.
type StatusChangeMeta struct {
	Note string `json:"note,omitempty"`
}

// CompletionMeta records which highlights the cascade turned gold.
type CompletionMeta struct {
	HighlightIDs []string `json:"highlight_ids"`
	Completed    int      `json:"completed"`
}

// ReopenMeta records the reopen cycle number after the transition.
type ReopenMeta struct {
	ReopenCount int    `json:"reopen_count"`
	Note        string `json:"note,omitempty"`
}

// LinkedMeta records the outcome of a highlight-linking batch.
type LinkedMeta struct {
	Linked       int      `json:"linked"`
	HighlightIDs []string `json:"highlight_ids"`
}

// NewStatusChangeEvent builds the audit record for a validated transition.
func NewStatusChangeEvent(assignmentID, actorID string, from, to AssignmentStatus, meta StatusChangeMeta) AssignmentEvent {
	return newEvent(assignmentID, actorID, EventStatusChange, from, to, meta)
}

// NewCompletionEvent builds the audit record for a completion cascade.
func NewCompletionEvent(assignmentID, actorID string, from AssignmentStatus, meta CompletionMeta) AssignmentEvent {
	return newEvent(assignmentID, actorID, EventCompletion, from, AssignmentCompleted, meta)
}

// NewReopenEvent builds the audit record for a completed → reopened edge.
func NewReopenEvent(assignmentID, actorID string, meta ReopenMeta) AssignmentEvent {
	return newEvent(assignmentID, actorID, EventReopen, AssignmentCompleted, AssignmentReopened, meta)
}

// NewHighlightsLinkedEvent builds the audit record for a link batch. Linking
// does not move the state machine, so from == to.
func NewHighlightsLinkedEvent(assignmentID, actorID string, status AssignmentStatus, meta LinkedMeta) AssignmentEvent {
	return newEvent(assignmentID, actorID, EventHighlightsLinked, status, status, meta)
}

// RevertMeta records which gold highlights were restored after a reopen.
type RevertMeta struct {
	HighlightIDs []string `json:"highlight_ids"`
	Reverted     int      `json:"reverted"`
}

// NewHighlightsRevertedEvent builds the audit record for the explicit
// gold-revert action. Reverting does not move the state machine.
func NewHighlightsRevertedEvent(assignmentID, actorID string, status AssignmentStatus, meta RevertMeta) AssignmentEvent {
	return newEvent(assignmentID, actorID, EventHighlightsRevert, status, status, meta)
}

// NewAssignmentCreatedEvent builds the audit record for assignment creation.
func NewAssignmentCreatedEvent(assignmentID, actorID string) AssignmentEvent {
	return newEvent(assignmentID, actorID, EventAssignmentCreated, AssignmentAssigned, AssignmentAssigned, nil)
}

func newEvent(assignmentID, actorID string, eventType AssignmentEventType, from, to AssignmentStatus, meta interface{}) AssignmentEvent {
	var raw json.RawMessage
	if meta != nil {
		if encoded, err := json.Marshal(meta); err == nil {
			raw = encoded
		}
	}
	return AssignmentEvent{
		AssignmentID: assignmentID,
		EventType:    eventType,
		ActorUserID:  actorID,
		FromStatus:   from,
		ToStatus:     to,
		Meta:         raw,
	}
}
