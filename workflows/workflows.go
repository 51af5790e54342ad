// Package workflows declares the typed states and triggers of every machine,
// the provider moderation workflows, and the embedded transition tables.
package workflows

import (
	"fmt"
	"slices"
)

// Workflow is a provider's moderation configuration.
type Workflow string

const (
	WorkflowNone   Workflow = "none"
	PreModeration  Workflow = "pre-moderation"
	PostModeration Workflow = "post-moderation"
	// HybridModeration applies to collections: submissions by provider
	// moderators skip the queue.
	HybridModeration Workflow = "hybrid-moderation"
)

// Workflows lists every known workflow.
var Workflows = []Workflow{WorkflowNone, PreModeration, PostModeration, HybridModeration}

// IsModerated reports whether a moderator stage is interposed.
func (w Workflow) IsModerated() bool {
	return w != WorkflowNone && w != ""
}

// ParseWorkflow converts a stored value. The empty string means WorkflowNone.
func ParseWorkflow(s string) (Workflow, error) {
	if s == "" {
		return WorkflowNone, nil
	}

	w := Workflow(s)
	if !slices.Contains(Workflows, w) {
		return "", fmt.Errorf("unknown workflow %q", s)
	}

	return w, nil
}

// DefaultState is the state set of node and preprint requests.
type DefaultState string

const (
	DefaultInitial  DefaultState = "initial"
	DefaultPending  DefaultState = "pending"
	DefaultAccepted DefaultState = "accepted"
	DefaultRejected DefaultState = "rejected"
)

// DefaultStates lists the request states.
var DefaultStates = []DefaultState{DefaultInitial, DefaultPending, DefaultAccepted, DefaultRejected}

// ReviewState is the state set of preprint review.
type ReviewState string

const (
	ReviewInitial   ReviewState = "initial"
	ReviewPending   ReviewState = "pending"
	ReviewAccepted  ReviewState = "accepted"
	ReviewRejected  ReviewState = "rejected"
	ReviewWithdrawn ReviewState = "withdrawn"
)

// ReviewStates lists the review states.
var ReviewStates = []ReviewState{ReviewInitial, ReviewPending, ReviewAccepted, ReviewRejected, ReviewWithdrawn}

// PublicReviewStates returns the review states in which a preprint is
// published under w.
func PublicReviewStates(w Workflow) []ReviewState {
	switch w {
	case PreModeration:
		return []ReviewState{ReviewAccepted}
	case PostModeration:
		return []ReviewState{ReviewPending, ReviewAccepted}
	default:
		return []ReviewState{ReviewInitial, ReviewPending, ReviewAccepted, ReviewRejected}
	}
}

// ApprovalState is a sanction's approval stage. Values are the stored names.
type ApprovalState string

const (
	Unapproved        ApprovalState = "unapproved"
	PendingModeration ApprovalState = "pending_moderation"
	// Approved is the accepted stage.
	Approved ApprovalState = "approved"
	// Rejected is the admin-rejected stage.
	Rejected          ApprovalState = "rejected"
	ModeratorRejected ApprovalState = "moderator_rejected"
	Completed         ApprovalState = "completed"
)

// ApprovalStates lists every approval stage.
var ApprovalStates = []ApprovalState{Unapproved, PendingModeration, Approved, Rejected, ModeratorRejected, Completed}

// IsRejected reports whether s is an admin or moderator rejection.
func (s ApprovalState) IsRejected() bool {
	return s == Rejected || s == ModeratorRejected
}

// IsApproved reports whether s has every required approval.
func (s ApprovalState) IsApproved() bool {
	return s == Approved || s == Completed
}

// RegistrationModerationState is the externally visible state of a
// registration, projected from its active sanction.
type RegistrationModerationState string

const (
	RegInitial                   RegistrationModerationState = "initial"
	RegReverted                  RegistrationModerationState = "reverted"
	RegPending                   RegistrationModerationState = "pending"
	RegRejected                  RegistrationModerationState = "rejected"
	RegAccepted                  RegistrationModerationState = "accepted"
	RegEmbargo                   RegistrationModerationState = "embargo"
	RegPendingEmbargoTermination RegistrationModerationState = "pending_embargo_termination"
	RegPendingWithdrawRequest    RegistrationModerationState = "pending_withdraw_request"
	RegPendingWithdraw           RegistrationModerationState = "pending_withdraw"
	RegWithdrawn                 RegistrationModerationState = "withdrawn"
	// RegUndefined means the sanction alone does not determine the state.
	RegUndefined RegistrationModerationState = "undefined"
)

// RegistrationModerationStates lists every projected state except RegUndefined.
var RegistrationModerationStates = []RegistrationModerationState{
	RegInitial, RegReverted, RegPending, RegRejected, RegAccepted, RegEmbargo,
	RegPendingEmbargoTermination, RegPendingWithdrawRequest, RegPendingWithdraw, RegWithdrawn,
}

// CollectionSubmissionState is the state set of collection submissions.
type CollectionSubmissionState string

const (
	SubmissionInProgress CollectionSubmissionState = "in_progress"
	SubmissionPending    CollectionSubmissionState = "pending"
	SubmissionAccepted   CollectionSubmissionState = "accepted"
	SubmissionRejected   CollectionSubmissionState = "rejected"
	SubmissionRemoved    CollectionSubmissionState = "removed"
)

// CollectionSubmissionStates lists the submission states.
var CollectionSubmissionStates = []CollectionSubmissionState{
	SubmissionInProgress, SubmissionPending, SubmissionAccepted, SubmissionRejected, SubmissionRemoved,
}

// SanctionType distinguishes the four sanction kinds.
type SanctionType string

const (
	RegistrationApproval SanctionType = "registration_approval"
	Embargo              SanctionType = "embargo"
	Retraction           SanctionType = "retraction"
	EmbargoTermination   SanctionType = "embargo_termination"
)

// SanctionTypes lists every sanction kind.
var SanctionTypes = []SanctionType{RegistrationApproval, Embargo, Retraction, EmbargoTermination}

// NodeRequestType distinguishes access requests.
type NodeRequestType string

const (
	AccessRequest        NodeRequestType = "access"
	InstitutionalRequest NodeRequestType = "institutional_request"
)

// Trigger names shared across tables.
const (
	TriggerSubmit      = "submit"
	TriggerAccept      = "accept"
	TriggerReject      = "reject"
	TriggerEditComment = "edit_comment"
	TriggerWithdraw    = "withdraw"
	TriggerApprove     = "approve"
	TriggerComplete    = "complete"
	TriggerRemove      = "remove"
	TriggerResubmit    = "resubmit"
	TriggerCancel      = "cancel"
)

// RegistrationModerationTrigger names the registration-level action recorded
// when a sanction transition changes the projected moderation state.
type RegistrationModerationTrigger string

const (
	RegTriggerSubmit            RegistrationModerationTrigger = "submit"
	RegTriggerAcceptSubmission  RegistrationModerationTrigger = "accept_submission"
	RegTriggerRejectSubmission  RegistrationModerationTrigger = "reject_submission"
	RegTriggerRequestWithdrawal RegistrationModerationTrigger = "request_withdrawal"
	RegTriggerAcceptWithdrawal  RegistrationModerationTrigger = "accept_withdrawal"
	RegTriggerRejectWithdrawal  RegistrationModerationTrigger = "reject_withdrawal"
	RegTriggerForceWithdraw     RegistrationModerationTrigger = "force_withdraw"
)
