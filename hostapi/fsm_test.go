package hostapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

func TestCheckTaskTransitionTodoToDoingRequiresAssigneeOrStart(t *testing.T) {
	err := checkTaskTransition(StatusTodo, map[string]any{}, map[string]any{MetaStatus: StatusDoing}, fixedNow)
	var fsmErr *FSMGuardError
	require.ErrorAs(t, err, &fsmErr)

	err = checkTaskTransition(StatusTodo, map[string]any{}, map[string]any{MetaStatus: StatusDoing, "assignee": "alice"}, fixedNow)
	require.NoError(t, err)
}

func TestCheckTaskTransitionDoneRequiresReopenReason(t *testing.T) {
	err := checkTaskTransition(StatusDone, map[string]any{}, map[string]any{MetaStatus: StatusDoing}, fixedNow)
	var fsmErr *FSMGuardError
	require.ErrorAs(t, err, &fsmErr)

	err = checkTaskTransition(StatusDone, map[string]any{}, map[string]any{MetaStatus: StatusDoing, "reopen_reason": "still needed"}, fixedNow)
	require.NoError(t, err)
}

func TestCheckTaskTransitionToBlockedRequiresReason(t *testing.T) {
	err := checkTaskTransition(StatusTodo, map[string]any{}, map[string]any{MetaStatus: StatusBlocked}, fixedNow)
	var fsmErr *FSMGuardError
	require.ErrorAs(t, err, &fsmErr)

	err = checkTaskTransition(StatusTodo, map[string]any{}, map[string]any{MetaStatus: StatusBlocked, "blocked_reason": "waiting on vendor"}, fixedNow)
	require.NoError(t, err)
}

func TestCheckTaskTransitionBlockedToTodoAlwaysAllowed(t *testing.T) {
	err := checkTaskTransition(StatusBlocked, map[string]any{}, map[string]any{MetaStatus: StatusTodo}, fixedNow)
	require.NoError(t, err)
}

func TestCheckTaskTransitionIllegalIsRejected(t *testing.T) {
	err := checkTaskTransition(StatusReview, map[string]any{}, map[string]any{MetaStatus: StatusBlocked + "x"}, fixedNow)
	// "blockedx" is not a recognized target at all, still must not panic and
	// must be rejected.
	require.Error(t, err)
}

func TestCheckTaskTransitionDoingToDoneFreezesEstimate(t *testing.T) {
	patch := map[string]any{MetaStatus: StatusDone}
	current := map[string]any{"estimate": "3h"}
	err := checkTaskTransition(StatusDoing, current, patch, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "3h", patch["estimate"])
	require.NotEmpty(t, patch["done_ts"])
}

func TestCheckTaskTransitionNoOpWhenStatusUnchanged(t *testing.T) {
	err := checkTaskTransition(StatusTodo, map[string]any{}, map[string]any{MetaStatus: StatusTodo}, fixedNow)
	require.NoError(t, err)
}

func TestCheckTaskTransitionReviewIsReachable(t *testing.T) {
	err := checkTaskTransition(StatusDoing, map[string]any{}, map[string]any{MetaStatus: StatusReview}, fixedNow)
	require.NoError(t, err)
}

func TestCheckTaskTransitionReviewToDoneFreezesEstimate(t *testing.T) {
	patch := map[string]any{MetaStatus: StatusDone}
	current := map[string]any{"estimate": "2h"}
	err := checkTaskTransition(StatusReview, current, patch, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "2h", patch["estimate"])
	require.NotEmpty(t, patch["done_ts"])
}

func TestCheckTaskTransitionReviewBackToDoingAllowed(t *testing.T) {
	err := checkTaskTransition(StatusReview, map[string]any{}, map[string]any{MetaStatus: StatusDoing}, fixedNow)
	require.NoError(t, err)
}
