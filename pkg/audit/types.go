package audit

import "time"

// Action is the kind of event being recorded.
type Action string

const (
	// ActionProvision marks a first login that created a profile.
	ActionProvision Action = "sso_provision"
	// ActionSignIn marks a login against an existing profile.
	ActionSignIn Action = "sso_signin"
)

// Event is a single audit entry.
type Event struct {
	ID          int64     `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	Action      Action    `json:"action"`
	SSOProvider string    `json:"sso_provider"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
