package models

import "time"

// AssignmentStatus captures workflow states for an assignment.
type AssignmentStatus string

const (
	AssignmentAssigned  AssignmentStatus = "assigned"
	AssignmentViewed    AssignmentStatus = "viewed"
	AssignmentSubmitted AssignmentStatus = "submitted"
	AssignmentReviewed  AssignmentStatus = "reviewed"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentReopened  AssignmentStatus = "reopened"
)

// ValidAssignmentStatus reports whether the value is part of the closed enum.
func ValidAssignmentStatus(s AssignmentStatus) bool {
	switch s {
	case AssignmentAssigned, AssignmentViewed, AssignmentSubmitted,
		AssignmentReviewed, AssignmentCompleted, AssignmentReopened:
		return true
	}
	return false
}

// assignmentEdges is the closed transition graph. No other edges are valid.
var assignmentEdges = map[AssignmentStatus]AssignmentStatus{
	AssignmentAssigned:  AssignmentViewed,
	AssignmentViewed:    AssignmentSubmitted,
	AssignmentSubmitted: AssignmentReviewed,
	AssignmentReviewed:  AssignmentCompleted,
	AssignmentCompleted: AssignmentReopened,
	AssignmentReopened:  AssignmentAssigned,
}

// CanTransition reports whether (from, to) is an edge of the state graph.
func CanTransition(from, to AssignmentStatus) bool {
	next, ok := assignmentEdges[from]
	return ok && next == to
}

// Assignment is a unit of work a teacher assigns to one student.
type Assignment struct {
	ID                 string           `db:"id" json:"id"`
	SchoolID           string           `db:"school_id" json:"school_id"`
	CreatedByTeacherID string           `db:"created_by_teacher_id" json:"created_by_teacher_id"`
	StudentID          string           `db:"student_id" json:"student_id"`
	Title              string           `db:"title" json:"title"`
	Description        string           `db:"description" json:"description"`
	Status             AssignmentStatus `db:"status" json:"status"`
	DueAt              time.Time        `db:"due_at" json:"due_at"`
	Late               bool             `db:"late" json:"late"`
	ReopenCount        int              `db:"reopen_count" json:"reopen_count"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
}

// EntityID implements the reconciler entity contract.
func (a Assignment) EntityID() string {
	return a.ID
}

// AssignmentHighlightLink joins an assignment to a highlight. The pair is
// unique; re-linking is a no-op.
type AssignmentHighlightLink struct {
	AssignmentID string `db:"assignment_id" json:"assignment_id"`
	HighlightID  string `db:"highlight_id" json:"highlight_id"`
}
