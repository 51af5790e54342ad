package moderation

import (
	"testing"

	wf "github.com/amp-labs/osf-moderation/workflows"
	"github.com/stretchr/testify/assert"
)

func TestFromSanction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind  wf.SanctionType
		stage wf.ApprovalState
		want  wf.RegistrationModerationState
	}{
		{wf.RegistrationApproval, wf.Unapproved, wf.RegInitial},
		{wf.RegistrationApproval, wf.PendingModeration, wf.RegPending},
		{wf.RegistrationApproval, wf.Approved, wf.RegAccepted},
		{wf.RegistrationApproval, wf.Rejected, wf.RegReverted},
		{wf.RegistrationApproval, wf.ModeratorRejected, wf.RegRejected},
		{wf.RegistrationApproval, wf.Completed, wf.RegUndefined},
		{wf.Embargo, wf.Unapproved, wf.RegInitial},
		{wf.Embargo, wf.PendingModeration, wf.RegPending},
		{wf.Embargo, wf.Approved, wf.RegEmbargo},
		{wf.Embargo, wf.Completed, wf.RegAccepted},
		{wf.Embargo, wf.Rejected, wf.RegReverted},
		{wf.Embargo, wf.ModeratorRejected, wf.RegRejected},
		{wf.Retraction, wf.Unapproved, wf.RegPendingWithdrawRequest},
		{wf.Retraction, wf.PendingModeration, wf.RegPendingWithdraw},
		{wf.Retraction, wf.Approved, wf.RegWithdrawn},
		{wf.Retraction, wf.Rejected, wf.RegUndefined},
		{wf.Retraction, wf.ModeratorRejected, wf.RegUndefined},
		{wf.EmbargoTermination, wf.Unapproved, wf.RegPendingEmbargoTermination},
		{wf.EmbargoTermination, wf.Approved, wf.RegAccepted},
		{wf.EmbargoTermination, wf.Rejected, wf.RegEmbargo},
		{wf.EmbargoTermination, wf.PendingModeration, wf.RegUndefined},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.stage), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, FromSanction(tt.kind, tt.stage))
		})
	}
}

func TestProject_NoSanction(t *testing.T) {
	t.Parallel()

	assert.Equal(t, wf.RegAccepted, Project(Chain{}))
}

func TestProject_Priority(t *testing.T) {
	t.Parallel()

	approval := &Stage{Kind: wf.RegistrationApproval, Stage: wf.Approved}
	embargo := &Stage{Kind: wf.Embargo, Stage: wf.Approved}
	retraction := &Stage{Kind: wf.Retraction, Stage: wf.Unapproved}
	termination := &Stage{Kind: wf.EmbargoTermination, Stage: wf.Unapproved}

	assert.Equal(t, wf.RegAccepted, Project(Chain{RegistrationApproval: approval}))
	assert.Equal(t, wf.RegEmbargo, Project(Chain{RegistrationApproval: approval, Embargo: embargo}))
	assert.Equal(t, wf.RegPendingWithdrawRequest,
		Project(Chain{RegistrationApproval: approval, Embargo: embargo, Retraction: retraction}))
	assert.Equal(t, wf.RegPendingEmbargoTermination,
		Project(Chain{Embargo: embargo, Retraction: retraction, EmbargoTermination: termination}))
}

func TestProject_RejectedRetractionFallsBack(t *testing.T) {
	t.Parallel()

	rejected := &Stage{Kind: wf.Retraction, Stage: wf.ModeratorRejected}

	assert.Equal(t, wf.RegAccepted, Project(Chain{
		RegistrationApproval: &Stage{Kind: wf.RegistrationApproval, Stage: wf.Approved},
		Retraction:           rejected,
	}))
	assert.Equal(t, wf.RegEmbargo, Project(Chain{
		Embargo:    &Stage{Kind: wf.Embargo, Stage: wf.Approved},
		Retraction: rejected,
	}))
	assert.Equal(t, wf.RegAccepted, Project(Chain{
		Embargo:    &Stage{Kind: wf.Embargo, Stage: wf.Completed},
		Retraction: rejected,
	}))
}

// Every (kind, stage) pair projects to a concrete state.
func TestProject_NeverUndefined(t *testing.T) {
	t.Parallel()

	for _, kind := range wf.SanctionTypes {
		for _, stage := range wf.ApprovalStates {
			for _, embargoed := range []bool{false, true} {
				chain := Chain{}
				if embargoed {
					chain.Embargo = &Stage{Kind: wf.Embargo, Stage: wf.Approved}
				}

				s := &Stage{Kind: kind, Stage: stage}

				switch kind {
				case wf.RegistrationApproval:
					chain.RegistrationApproval = s
					chain.Embargo = nil
				case wf.Embargo:
					chain.Embargo = s
				case wf.Retraction:
					chain.Retraction = s
				case wf.EmbargoTermination:
					chain.EmbargoTermination = s
				}

				got := Project(chain)
				assert.NotEqual(t, wf.RegUndefined, got, "%s/%s", kind, stage)
				assert.Contains(t, wf.RegistrationModerationStates, got)
			}
		}
	}
}

func TestTriggerFromTransition(t *testing.T) {
	t.Parallel()

	trigger, ok := TriggerFromTransition(wf.RegInitial, wf.RegPending)
	assert.True(t, ok)
	assert.Equal(t, wf.RegTriggerSubmit, trigger)

	trigger, ok = TriggerFromTransition(wf.RegPending, wf.RegEmbargo)
	assert.True(t, ok)
	assert.Equal(t, wf.RegTriggerAcceptSubmission, trigger)

	trigger, ok = TriggerFromTransition(wf.RegEmbargo, wf.RegWithdrawn)
	assert.True(t, ok)
	assert.Equal(t, wf.RegTriggerForceWithdraw, trigger)

	_, ok = TriggerFromTransition(wf.RegInitial, wf.RegAccepted)
	assert.False(t, ok)

	_, ok = TriggerFromTransition(wf.RegEmbargo, wf.RegAccepted)
	assert.False(t, ok)
}
