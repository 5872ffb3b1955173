package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHighlightCloseAndReopen(t *testing.T) {
	h := &Highlight{ID: "h-1", Color: "red"}
	require.True(t, h.CheckInvariant())

	now := time.Now().UTC()
	require.True(t, h.Close("teacher-1", now))
	require.True(t, h.IsClosed())
	require.True(t, h.CheckInvariant())
	require.Equal(t, ColorGold, h.Color)
	require.NotNil(t, h.PreviousColor)
	require.Equal(t, "red", *h.PreviousColor)
	require.NotNil(t, h.CompletedAt)
	require.NotNil(t, h.CompletedBy)
	require.Equal(t, "teacher-1", *h.CompletedBy)

	// Closing again is a no-op: previous_color must not be overwritten with
	// gold.
	require.False(t, h.Close("teacher-2", now))
	require.Equal(t, "red", *h.PreviousColor)

	require.True(t, h.Reopen())
	require.False(t, h.IsClosed())
	require.True(t, h.CheckInvariant())
	require.Equal(t, "red", h.Color)
	require.Nil(t, h.PreviousColor)
	require.Nil(t, h.CompletedAt)
	require.Nil(t, h.CompletedBy)

	// Reopening an open highlight is a no-op.
	require.False(t, h.Reopen())
}

func TestHighlightCheckInvariantDetectsDrift(t *testing.T) {
	now := time.Now().UTC()
	broken := &Highlight{ID: "h-2", Color: ColorGold, CompletedAt: &now}
	require.False(t, broken.CheckInvariant())

	prev := "blue"
	broken = &Highlight{ID: "h-3", Color: "blue", PreviousColor: &prev}
	require.False(t, broken.CheckInvariant())
}

func TestValidMistakeType(t *testing.T) {
	require.True(t, ValidMistakeType(MistakeTajweed))
	require.True(t, ValidMistakeType(MistakeRecap))
	require.False(t, ValidMistakeType("spelling"))
}
