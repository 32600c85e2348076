package model

import "time"

const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
)

const (
	AuditActionLogin   = "auth.login"
	AuditActionRefresh = "auth.refresh"
	AuditActionLogout  = "auth.logout"
	AuditActionAccess  = "auth.access"
	AuditActionDenied  = "authz.denied"
	AuditActionSweep   = "admin.sessions.sweep"
)

// AuditEvent is one record appended to the audit sink. PrincipalID is empty
// when the caller could not be identified (e.g. unknown login identifier).
type AuditEvent struct {
	PrincipalID string    `json:"principal_id,omitempty"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	Detail      string    `json:"detail,omitempty"`
	Source      string    `json:"source,omitempty"`
	Outcome     string    `json:"outcome"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type AuditQuery struct {
	Action      string
	PrincipalID string
	Outcome     string
	Source      string
	From        string
	To          string
	Page        int
	Limit       int
}

type AuditListData struct {
	Items []AuditEvent `json:"items"`
}
