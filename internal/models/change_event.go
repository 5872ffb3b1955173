package models

import (
	"encoding/json"
	"fmt"
)

// EntityType names the entity a change event describes.
type EntityType string

const (
	EntityHighlight  EntityType = "highlight"
	EntityAssignment EntityType = "assignment"
)

// EventKind is the change operation carried by a feed event.
type EventKind string

const (
	KindInsert EventKind = "insert"
	KindUpdate EventKind = "update"
	KindDelete EventKind = "delete"
)

// ScopeKind selects the security boundary a subscriber filters on.
type ScopeKind string

const (
	ScopeStudent ScopeKind = "student"
	ScopeTeacher ScopeKind = "teacher"
	ScopeSchool  ScopeKind = "school"
)

// Scope is a structured subscription key: exactly one boundary kind plus the
// id it filters on. Built as a value type so brokers can index on it
// directly instead of parsing concatenated channel names.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// ParseScope validates a boundary-supplied kind/id pair.
func ParseScope(kind, id string) (Scope, error) {
	if id == "" {
		return Scope{}, fmt.Errorf("scope id is required")
	}
	switch ScopeKind(kind) {
	case ScopeStudent, ScopeTeacher, ScopeSchool:
		return Scope{Kind: ScopeKind(kind), ID: id}, nil
	}
	return Scope{}, fmt.Errorf("unknown scope kind %q", kind)
}

// ChangeEvent is one ordered per-entity delta emitted by the stores.
// Transient: it lives only on the feed, never in storage. Delivery is
// at-least-once; consumers dedupe on (EntityID, Sequence).
type ChangeEvent struct {
	EntityType EntityType      `json:"entity_type"`
	Kind       EventKind       `json:"kind"`
	EntityID   string          `json:"entity_id"`
	SchoolID   string          `json:"school_id"`
	TeacherID  string          `json:"teacher_id,omitempty"`
	StudentID  string          `json:"student_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Sequence   uint64          `json:"sequence"`
	// Origin identifies the publishing instance so the Redis relay does not
	// rebroadcast an event back into the broker that produced it.
	Origin string `json:"origin,omitempty"`
}

// Scopes returns the scope keys this event fans out to. Events always carry
// a school scope; student and teacher scopes are added when the ids are set.
func (e ChangeEvent) Scopes() []Scope {
	scopes := make([]Scope, 0, 3)
	if e.SchoolID != "" {
		scopes = append(scopes, Scope{Kind: ScopeSchool, ID: e.SchoolID})
	}
	if e.TeacherID != "" {
		scopes = append(scopes, Scope{Kind: ScopeTeacher, ID: e.TeacherID})
	}
	if e.StudentID != "" {
		scopes = append(scopes, Scope{Kind: ScopeStudent, ID: e.StudentID})
	}
	return scopes
}
