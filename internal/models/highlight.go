package models

import (
	"time"
)

// MistakeType categorises a recitation mistake marked by a teacher.
type MistakeType string

const (
	MistakeRecap   MistakeType = "recap"
	MistakeTajweed MistakeType = "tajweed"
	MistakeHaraka  MistakeType = "haraka"
	MistakeLetter  MistakeType = "letter"
)

// ValidMistakeType reports whether the value is part of the closed enum.
func ValidMistakeType(t MistakeType) bool {
	switch t {
	case MistakeRecap, MistakeTajweed, MistakeHaraka, MistakeLetter:
		return true
	}
	return false
}

// ColorGold is the reserved completion sentinel. A highlight carries it only
// while closed; callers never set it directly.
const ColorGold = "gold"

// Highlight is one marked mistake span in one ayah for one student.
//
// Invariant: color == gold ⇔ completed_at != nil ⇔ previous_color != nil.
// Close and Reopen are the only mutators of that triple.
type Highlight struct {
	ID            string      `db:"id" json:"id"`
	SchoolID      string      `db:"school_id" json:"school_id"`
	TeacherID     string      `db:"teacher_id" json:"teacher_id"`
	StudentID     string      `db:"student_id" json:"student_id"`
	ScriptID      string      `db:"script_id" json:"script_id"`
	AyahID        int         `db:"ayah_id" json:"ayah_id"`
	TokenStart    int         `db:"token_start" json:"token_start"`
	TokenEnd      int         `db:"token_end" json:"token_end"`
	MistakeType   MistakeType `db:"mistake_type" json:"mistake_type"`
	Color         string      `db:"color" json:"color"`
	PreviousColor *string     `db:"previous_color" json:"previous_color,omitempty"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy   *string     `db:"completed_by" json:"completed_by,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// EntityID implements the reconciler entity contract.
func (h Highlight) EntityID() string {
	return h.ID
}

// IsClosed reports whether the highlight has been turned gold by a
// completion cascade.
func (h *Highlight) IsClosed() bool {
	return h.Color == ColorGold
}

// Close turns the highlight gold, remembering the prior color so a later
// reopen can restore it. No-op when already closed.
func (h *Highlight) Close(actorID string, now time.Time) bool {
	if h.IsClosed() {
		return false
	}
	prev := h.Color
	h.PreviousColor = &prev
	h.Color = ColorGold
	h.CompletedAt = &now
	h.CompletedBy = &actorID
	return true
}

// Reopen restores the pre-completion color and clears the completion fields.
// No-op when the highlight is open.
func (h *Highlight) Reopen() bool {
	if !h.IsClosed() || h.PreviousColor == nil {
		return false
	}
	h.Color = *h.PreviousColor
	h.PreviousColor = nil
	h.CompletedAt = nil
	h.CompletedBy = nil
	return true
}

// CheckInvariant verifies the gold triple holds. Used by tests and by the
// store before persisting externally supplied rows.
func (h *Highlight) CheckInvariant() bool {
	closed := h.Color == ColorGold
	return closed == (h.CompletedAt != nil) && closed == (h.PreviousColor != nil)
}
