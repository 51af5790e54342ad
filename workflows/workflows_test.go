package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/osf-moderation/statemachine/validator"
)

func TestEmbeddedTablesLoadAndLint(t *testing.T) {
	t.Parallel()

	assert.ElementsMatch(t, TableNames(), Loader().ListAvailable())

	for _, name := range TableNames() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			table, err := Load(name)
			require.NoError(t, err)
			assert.Equal(t, name, table.Name)

			result := validator.ValidateStrict(table)
			assert.True(t, result.Valid, "%+v", result.Errors)
		})
	}
}

func TestReviewsExtendsRequests(t *testing.T) {
	t.Parallel()

	requests := MustLoad(RequestsTable)
	reviews := MustLoad(ReviewsTable)

	assert.Len(t, reviews.Transitions, len(requests.Transitions)+1)
	assert.Contains(t, reviews.States, string(ReviewWithdrawn))
	assert.NotContains(t, requests.States, string(ReviewWithdrawn))
	assert.True(t, reviews.IgnoresInvalidTriggers())
	assert.Contains(t, reviews.Triggers(), TriggerWithdraw)
}

func TestApprovalsRaisesOnInvalidTriggers(t *testing.T) {
	t.Parallel()

	approvals := MustLoad(ApprovalsTable)
	assert.False(t, approvals.IgnoresInvalidTriggers())
	assert.Equal(t, []string{"save_transition"}, approvals.AfterStateChange)

	collections := MustLoad(CollectionSubmissionsTable)
	assert.False(t, collections.IgnoresInvalidTriggers())
}

func TestParseWorkflow(t *testing.T) {
	t.Parallel()

	w, err := ParseWorkflow("")
	require.NoError(t, err)
	assert.Equal(t, WorkflowNone, w)
	assert.False(t, w.IsModerated())

	w, err = ParseWorkflow("post-moderation")
	require.NoError(t, err)
	assert.True(t, w.IsModerated())

	_, err = ParseWorkflow("sometimes-moderation")
	require.Error(t, err)
}

func TestPublicReviewStates(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []ReviewState{ReviewAccepted}, PublicReviewStates(PreModeration))
	assert.Equal(t, []ReviewState{ReviewPending, ReviewAccepted}, PublicReviewStates(PostModeration))
	assert.Len(t, PublicReviewStates(WorkflowNone), 4)
	assert.NotContains(t, PublicReviewStates(WorkflowNone), ReviewWithdrawn)
}

func TestApprovalStatePredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, Rejected.IsRejected())
	assert.True(t, ModeratorRejected.IsRejected())
	assert.False(t, Approved.IsRejected())
	assert.True(t, Approved.IsApproved())
	assert.True(t, Completed.IsApproved())
	assert.False(t, PendingModeration.IsApproved())
}
