package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionAcceptsEveryEdge(t *testing.T) {
	edges := [][2]AssignmentStatus{
		{AssignmentAssigned, AssignmentViewed},
		{AssignmentViewed, AssignmentSubmitted},
		{AssignmentSubmitted, AssignmentReviewed},
		{AssignmentReviewed, AssignmentCompleted},
		{AssignmentCompleted, AssignmentReopened},
		{AssignmentReopened, AssignmentAssigned},
	}
	for _, edge := range edges {
		require.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestCanTransitionRejectsEverythingElse(t *testing.T) {
	statuses := []AssignmentStatus{
		AssignmentAssigned, AssignmentViewed, AssignmentSubmitted,
		AssignmentReviewed, AssignmentCompleted, AssignmentReopened,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if assignmentEdges[from] == to {
				continue
			}
			require.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
	require.False(t, CanTransition(AssignmentAssigned, "archived"))
	require.False(t, CanTransition("archived", AssignmentAssigned))
}

func TestValidAssignmentStatus(t *testing.T) {
	require.True(t, ValidAssignmentStatus(AssignmentReviewed))
	require.False(t, ValidAssignmentStatus("done"))
	require.False(t, ValidAssignmentStatus(""))
}
