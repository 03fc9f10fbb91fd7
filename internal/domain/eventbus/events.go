package eventbus

import "time"

// Topics published by the LaunchKey client and the session layer.
const (
	EventAuthorized   = "launchkey:authorized"
	EventDenied       = "launchkey:denied"
	EventDeorbit      = "launchkey:deorbit"
	EventNotifyFailed = "launchkey:notify-failed"

	EventSessionCreated = "session:created"
	EventSessionRemoved = "session:removed"
)

// Topics lists every topic so subscribers such as the audit recorder can attach
// to all of them.
var Topics = []string{
	EventAuthorized,
	EventDenied,
	EventDeorbit,
	EventNotifyFailed,
	EventSessionCreated,
	EventSessionRemoved,
}

// AuthEventData accompanies EventAuthorized and EventDenied.
type AuthEventData struct {
	AuthRequest string    `json:"auth_request"`
	DeviceID    string    `json:"device_id,omitempty"`
	At          time.Time `json:"at"`
}

// DeorbitEventData accompanies EventDeorbit. Only confirmed deorbits are
// published.
type DeorbitEventData struct {
	UserHash string        `json:"user_hash"`
	Age      time.Duration `json:"age"`
	At       time.Time     `json:"at"`
}

// NotifyFailedEventData accompanies EventNotifyFailed.
type NotifyFailedEventData struct {
	Action      string    `json:"action"`
	Status      bool      `json:"status"`
	AuthRequest string    `json:"auth_request,omitempty"`
	Error       string    `json:"error"`
	At          time.Time `json:"at"`
}

// SessionEventData accompanies the session topics.
type SessionEventData struct {
	SessionID   string    `json:"session_id"`
	AuthRequest string    `json:"auth_request,omitempty"`
	Username    string    `json:"username,omitempty"`
	UserHash    string    `json:"user_hash,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}
