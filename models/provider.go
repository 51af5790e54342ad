package models

import (
	wf "github.com/amp-labs/osf-moderation/workflows"
)

// ProviderRole is a user's role on a provider.
type ProviderRole string

const (
	ProviderAdmin     ProviderRole = "admin"
	ProviderModerator ProviderRole = "moderator"
)

// Provider is a preprint server, registry or collection host.
type Provider struct {
	Base

	Name     string                  `json:"name"`
	Workflow wf.Workflow             `json:"workflow"`
	Roles    map[string]ProviderRole `json:"roles,omitempty"`

	EmailContact string `json:"email_contact,omitempty"`
	EmailSupport string `json:"email_support,omitempty"`
}

func (*Provider) Kind() string { return KindProvider }
func (*Provider) StateName() string { return "" }

// ContactEmail is the provider's contact address, or fallback when it has none.
func (p *Provider) ContactEmail(fallback string) string {
	if p == nil || p.EmailContact == "" {
		return fallback
	}

	return p.EmailContact
}

// SupportEmail is the provider's support address, or fallback when it has none.
func (p *Provider) SupportEmail(fallback string) string {
	if p == nil || p.EmailSupport == "" {
		return fallback
	}

	return p.EmailSupport
}

// IsModerator reports whether userID is a moderator or admin of the provider.
func (p *Provider) IsModerator(userID string) bool {
	if p == nil {
		return false
	}

	_, ok := p.Roles[userID]

	return ok
}

// ModeratorIDs returns every user with a role on the provider.
func (p *Provider) ModeratorIDs() []string {
	ids := make([]string, 0, len(p.Roles))
	for id := range p.Roles {
		ids = append(ids, id)
	}

	return ids
}

// IsModerated reports whether the provider interposes a moderator stage.
func (p *Provider) IsModerated() bool {
	return p != nil && p.Workflow.IsModerated()
}
