package dto

// CreateHighlightRequest is the payload for marking a new mistake span.
// school and teacher identity come from the authenticated claims.
type CreateHighlightRequest struct {
	StudentID   string `json:"student_id" validate:"required"`
	TeacherID   string `json:"teacher_id"`
	ScriptID    string `json:"script_id" validate:"required"`
	AyahID      int    `json:"ayah_id" validate:"required,min=1"`
	TokenStart  int    `json:"token_start" validate:"min=0"`
	TokenEnd    int    `json:"token_end" validate:"min=0"`
	MistakeType string `json:"mistake_type" validate:"required"`
	Color       string `json:"color" validate:"required"`
}

// UpdateHighlightRequest carries teacher edits to an open highlight. Nil
// fields are left unchanged.
type UpdateHighlightRequest struct {
	ScriptID    *string `json:"script_id,omitempty"`
	AyahID      *int    `json:"ayah_id,omitempty"`
	TokenStart  *int    `json:"token_start,omitempty"`
	TokenEnd    *int    `json:"token_end,omitempty"`
	MistakeType *string `json:"mistake_type,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// HighlightQuery mirrors the snapshot-read filters.
type HighlightQuery struct {
	StudentID string `form:"student_id"`
	TeacherID string `form:"teacher_id"`
}
