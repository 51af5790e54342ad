package models

import (
	"time"
)

// Log actions.
const (
	LogPreprintPublished            = "published"
	LogRegistrationApprovalApproved = "registration_approval_approved"
	LogProjectRegistered            = "project_registered"
)

// LogEntry is one line of a node or preprint activity log.
type LogEntry struct {
	Action  string            `json:"action"`
	UserID  string            `json:"user_id,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Created time.Time         `json:"created"`
}

// Logs is an activity log, oldest first.
type Logs []LogEntry

// Add appends an entry.
func (l *Logs) Add(action, userID string, at time.Time, params map[string]string) {
	*l = append(*l, LogEntry{Action: action, UserID: userID, Params: params, Created: at.UTC()})
}

// Has reports whether any entry records action.
func (l Logs) Has(action string) bool {
	for _, e := range l {
		if e.Action == action {
			return true
		}
	}

	return false
}
