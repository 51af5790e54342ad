// Package moderation projects a registration's public moderation state from
// its sanctions. Everything here is pure.
package moderation

import (
	wf "github.com/amp-labs/osf-moderation/workflows"
)

var sanctionStateMap = map[wf.SanctionType]map[wf.ApprovalState]wf.RegistrationModerationState{
	wf.RegistrationApproval: {
		wf.Unapproved:        wf.RegInitial,
		wf.PendingModeration: wf.RegPending,
		wf.Approved:          wf.RegAccepted,
		wf.Rejected:          wf.RegReverted,
		wf.ModeratorRejected: wf.RegRejected,
	},
	wf.Embargo: {
		wf.Unapproved:        wf.RegInitial,
		wf.PendingModeration: wf.RegPending,
		wf.Approved:          wf.RegEmbargo,
		wf.Completed:         wf.RegAccepted,
		wf.Rejected:          wf.RegReverted,
		wf.ModeratorRejected: wf.RegRejected,
	},
	wf.Retraction: {
		wf.Unapproved:        wf.RegPendingWithdrawRequest,
		wf.PendingModeration: wf.RegPendingWithdraw,
		wf.Approved:          wf.RegWithdrawn,
		// A rejected retraction leaves the registration as it was before.
		wf.Rejected:          wf.RegUndefined,
		wf.ModeratorRejected: wf.RegUndefined,
	},
	wf.EmbargoTermination: {
		wf.Unapproved: wf.RegPendingEmbargoTermination,
		wf.Approved:   wf.RegAccepted,
		wf.Completed:  wf.RegAccepted,
		wf.Rejected:   wf.RegEmbargo,
	},
}

// FromSanction maps one sanction's stage to a moderation state. It returns
// RegUndefined when the stage alone does not decide the state.
func FromSanction(kind wf.SanctionType, stage wf.ApprovalState) wf.RegistrationModerationState {
	if state, ok := sanctionStateMap[kind][stage]; ok {
		return state
	}

	return wf.RegUndefined
}

// Stage is the part of a sanction the projector reads.
type Stage struct {
	Kind  wf.SanctionType
	Stage wf.ApprovalState
}

// Chain holds the sanctions attached to a registration. Nil means absent.
type Chain struct {
	RegistrationApproval *Stage
	Embargo              *Stage
	Retraction           *Stage
	EmbargoTermination   *Stage
}

// Active returns the sanction that governs the registration: an embargo
// termination first, then a retraction, an embargo and finally the
// registration approval.
func (c Chain) Active() *Stage {
	for _, s := range []*Stage{c.EmbargoTermination, c.Retraction, c.Embargo, c.RegistrationApproval} {
		if s != nil {
			return s
		}
	}

	return nil
}

// IsEmbargoed reports whether an approved embargo is still in force.
func (c Chain) IsEmbargoed() bool {
	return c.Embargo != nil && c.Embargo.Stage == wf.Approved
}

// Project returns the registration's moderation state. With no sanction the
// registration is accepted. An undefined result falls back to embargo or
// accepted depending on whether an embargo is in force.
func Project(c Chain) wf.RegistrationModerationState {
	active := c.Active()
	if active == nil {
		return wf.RegAccepted
	}

	state := FromSanction(active.Kind, active.Stage)
	if state != wf.RegUndefined {
		return state
	}

	if c.IsEmbargoed() {
		return wf.RegEmbargo
	}

	return wf.RegAccepted
}

type transition struct {
	from wf.RegistrationModerationState
	to   wf.RegistrationModerationState
}

var transitionTriggers = map[transition]wf.RegistrationModerationTrigger{
	{wf.RegInitial, wf.RegPending}:                        wf.RegTriggerSubmit,
	{wf.RegPending, wf.RegAccepted}:                       wf.RegTriggerAcceptSubmission,
	{wf.RegPending, wf.RegEmbargo}:                        wf.RegTriggerAcceptSubmission,
	{wf.RegPending, wf.RegRejected}:                       wf.RegTriggerRejectSubmission,
	{wf.RegPendingWithdrawRequest, wf.RegPendingWithdraw}: wf.RegTriggerRequestWithdrawal,
	{wf.RegPendingWithdraw, wf.RegWithdrawn}:              wf.RegTriggerAcceptWithdrawal,
	{wf.RegPendingWithdraw, wf.RegAccepted}:               wf.RegTriggerRejectWithdrawal,
	{wf.RegPendingWithdraw, wf.RegEmbargo}:                wf.RegTriggerRejectWithdrawal,
	{wf.RegAccepted, wf.RegWithdrawn}:                     wf.RegTriggerForceWithdraw,
	{wf.RegEmbargo, wf.RegWithdrawn}:                      wf.RegTriggerForceWithdraw,
}

// TriggerFromTransition names the registration action for a change of
// moderation state. ok is false for changes that are not moderation events.
func TriggerFromTransition(from, to wf.RegistrationModerationState) (wf.RegistrationModerationTrigger, bool) {
	trigger, ok := transitionTriggers[transition{from, to}]

	return trigger, ok
}
