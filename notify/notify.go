// Package notify renders and delivers the emails sent by machine hooks.
//
// Delivery is best effort: a failed send is retried, logged and counted,
// never returned to the caller whose transition already committed.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	wf "github.com/amp-labs/osf-moderation/workflows"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Template names one kind of email.
type Template string

const (
	SanctionAdminApproval      Template = "sanction_admin_approval"
	SanctionModeratorsPending  Template = "sanction_moderators_pending"
	SanctionAccepted           Template = "sanction_accepted"
	SanctionRejected           Template = "sanction_rejected"
	SanctionModeratorRejected  Template = "sanction_moderator_rejected"
	ReviewsSubmitted           Template = "reviews_submitted"
	ReviewsResubmitted         Template = "reviews_resubmitted"
	ReviewsAccepted            Template = "reviews_accepted"
	ReviewsRejected            Template = "reviews_rejected"
	ReviewsCommentEdited       Template = "reviews_comment_edited"
	ReviewsWithdrawn           Template = "reviews_withdrawn"
	ReviewsModeratorsSubmitted Template = "reviews_moderators_submitted"
	AccessRequestSubmitted     Template = "access_request_submitted"
	AccessRequestDenied        Template = "access_request_denied"
	WithdrawalRequestSubmitted Template = "withdrawal_request_submitted"
	WithdrawalRequestDenied    Template = "withdrawal_request_denied"
	CollectionPending          Template = "collection_submission_pending"
	CollectionPendingModerator Template = "collection_submission_pending_moderators"
	CollectionAccepted         Template = "collection_submission_accepted"
	CollectionRejected         Template = "collection_submission_rejected"
	CollectionRemovedModerator Template = "collection_submission_removed_moderator"
	CollectionRemovedAdmin     Template = "collection_submission_removed_admin"
	CollectionCancel           Template = "collection_submission_cancel"
)

// ErrUnknownTemplate is returned by Build for an unregistered template.
var ErrUnknownTemplate = errors.New("unknown notification template")

// Recipient is who a message goes to.
type Recipient struct {
	UserID string
	Name   string
	Email  string
}

// Message is a rendered email.
type Message struct {
	Template Template
	To       Recipient
	Subject  string
	Body     string
	Data     map[string]any
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type content struct {
	subject *template.Template
	body    *template.Template
}

func mustContent(name Template, subject, body string) content {
	funcs := template.FuncMap{"title": func(v any) string {
		s, _ := v.(string)

		return Title(s)
	}}

	return content{
		subject: template.Must(template.New(string(name) + ".subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(string(name) + ".body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[Template]content{
	SanctionAdminApproval: mustContent(SanctionAdminApproval,
		`{{title .sanction}} requested for {{.title}}`,
		`{{.initiator}} requested a {{.sanction}} for "{{.title}}".
Approve: {{.approve_url}}
Reject: {{.reject_url}}
`),
	SanctionModeratorsPending: mustContent(SanctionModeratorsPending,
		`{{title .sanction}} awaiting moderation`,
		`"{{.title}}" has a {{.sanction}} waiting for a moderator decision.`),
	SanctionAccepted: mustContent(SanctionAccepted,
		`{{title .sanction}} approved`,
		`The {{.sanction}} for "{{.title}}" has been approved.`),
	SanctionRejected: mustContent(SanctionRejected,
		`{{title .sanction}} cancelled`,
		`The {{.sanction}} for "{{.title}}" was rejected by an administrator.`),
	SanctionModeratorRejected: mustContent(SanctionModeratorRejected,
		`{{title .sanction}} rejected by moderators`,
		`A moderator rejected the {{.sanction}} for "{{.title}}".{{if .comment}}
Comment: {{.comment}}{{end}}`),
	ReviewsSubmitted: mustContent(ReviewsSubmitted,
		`Confirmation of your submission: {{.title}}`,
		`"{{.title}}" was submitted to {{.provider}}.`),
	ReviewsResubmitted: mustContent(ReviewsResubmitted,
		`Confirmation of your resubmission: {{.title}}`,
		`"{{.title}}" was resubmitted to {{.provider}}.`),
	ReviewsModeratorsSubmitted: mustContent(ReviewsModeratorsSubmitted,
		`New submission to {{.provider}}`,
		`"{{.title}}" is waiting for review.`),
	ReviewsAccepted: mustContent(ReviewsAccepted,
		`Your submission has been accepted: {{.title}}`,
		`{{.provider}} accepted "{{.title}}".{{if .comment}}
Comment: {{.comment}}{{end}}`),
	ReviewsRejected: mustContent(ReviewsRejected,
		`Your submission has been rejected: {{.title}}`,
		`{{.provider}} rejected "{{.title}}".{{if .comment}}
Comment: {{.comment}}{{end}}`),
	ReviewsCommentEdited: mustContent(ReviewsCommentEdited,
		`Review comment updated: {{.title}}`,
		`The moderator comment on "{{.title}}" changed.{{if .comment}}
Comment: {{.comment}}{{end}}`),
	ReviewsWithdrawn: mustContent(ReviewsWithdrawn,
		`Your submission has been withdrawn: {{.title}}`,
		`"{{.title}}" was withdrawn from {{.provider}}.{{if .force_withdrawal}}
The withdrawal was made by a moderator.{{else if .is_requester}}
Your withdrawal request was granted.{{else if .requester}}
{{.requester}} asked for the withdrawal.{{end}}{{if .comment}}
Justification: {{.comment}}{{end}}{{with .provider_support_email}}
Questions: {{.}}{{end}}`),
	AccessRequestSubmitted: mustContent(AccessRequestSubmitted,
		`{{.requester}} requested access to {{.title}}`,
		`{{.requester}} asked to join "{{.title}}".{{if .comment}}
Message: {{.comment}}{{end}}{{with .osf_contact_email}}
Questions: {{.}}{{end}}`),
	AccessRequestDenied: mustContent(AccessRequestDenied,
		`Your access request to {{.title}} was declined`,
		`An administrator declined your request to join "{{.title}}".{{with .osf_contact_email}}
Questions: {{.}}{{end}}`),
	WithdrawalRequestSubmitted: mustContent(WithdrawalRequestSubmitted,
		`Withdrawal requested for {{.title}}`,
		`{{.requester}} asked to withdraw "{{.title}}".{{if .comment}}
Justification: {{.comment}}{{end}}`),
	WithdrawalRequestDenied: mustContent(WithdrawalRequestDenied,
		`Your withdrawal request for {{.title}} was declined`,
		`{{.provider}} declined the withdrawal of "{{.title}}".{{if .comment}}
Comment: {{.comment}}{{end}}{{with .provider_contact_email}}
Contact: {{.}}{{end}}`),
	CollectionPending: mustContent(CollectionPending,
		`{{.title}} is pending moderation in {{.collection}}`,
		`"{{.title}}" was submitted to {{.collection}} and awaits moderation.`),
	CollectionPendingModerator: mustContent(CollectionPendingModerator,
		`New submission to {{.collection}}`,
		`"{{.title}}" was submitted to {{.collection}}.`),
	CollectionAccepted: mustContent(CollectionAccepted,
		`{{.title}} was added to {{.collection}}`,
		`"{{.title}}" is now part of {{.collection}}.`),
	CollectionRejected: mustContent(CollectionRejected,
		`{{.title}} was not accepted into {{.collection}}`,
		`A moderator rejected "{{.title}}".{{if .comment}}
Comment: {{.comment}}{{end}}`),
	CollectionRemovedModerator: mustContent(CollectionRemovedModerator,
		`{{.title}} was removed from {{.collection}}`,
		`A moderator removed "{{.title}}" from {{.collection}}.{{if .comment}}
Comment: {{.comment}}{{end}}`),
	CollectionRemovedAdmin: mustContent(CollectionRemovedAdmin,
		`{{.title}} was removed from {{.collection}}`,
		`A project administrator removed "{{.title}}" from {{.collection}}.`),
	CollectionCancel: mustContent(CollectionCancel,
		`Submission of {{.title}} to {{.collection}} was cancelled`,
		`The submission of "{{.title}}" to {{.collection}} was cancelled.`),
}

// Build renders tpl for one recipient.
func Build(tpl Template, to Recipient, data map[string]any) (Message, error) {
	c, ok := templates[tpl]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, tpl)
	}

	var subject, body bytes.Buffer

	if err := c.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("rendering %s subject: %w", tpl, err)
	}

	if err := c.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("rendering %s body: %w", tpl, err)
	}

	return Message{Template: tpl, To: to, Subject: subject.String(), Body: body.String(), Data: data}, nil
}

// Templates returns every registered template name.
func Templates() []Template {
	out := make([]Template, 0, len(templates))
	for t := range templates {
		out = append(out, t)
	}

	return out
}

// Title capitalizes every word of s.
func Title(s string) string {
	return cases.Title(language.English).String(s)
}

// SanctionName is the human name of a sanction kind, e.g. "registration approval".
func SanctionName(kind wf.SanctionType) string {
	switch kind {
	case wf.RegistrationApproval:
		return "registration approval"
	case wf.Embargo:
		return "embargo"
	case wf.Retraction:
		return "retraction"
	case wf.EmbargoTermination:
		return "embargo termination"
	default:
		return string(kind)
	}
}
