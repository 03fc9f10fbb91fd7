package launchkey

import (
	"time"

	"launchkey-go/internal/domain/launchkey/model"
)

type AuthOutcome int

const (
	AuthDenied AuthOutcome = iota
	AuthApproved
)

func (o AuthOutcome) String() string {
	if o == AuthApproved {
		return "approved"
	}
	return "denied"
}

// AuthResult is the outcome of IsAuthorized.
type AuthResult struct {
	Outcome     AuthOutcome
	AuthRequest string
	Response    model.UserAuthResponse
}

func (r AuthResult) Approved() bool {
	return r.Outcome == AuthApproved
}

type DeorbitOutcome int

const (
	DeorbitUntrusted DeorbitOutcome = iota
	DeorbitTooRecent
	DeorbitConfirmed
)

func (o DeorbitOutcome) String() string {
	switch o {
	case DeorbitConfirmed:
		return "confirmed"
	case DeorbitTooRecent:
		return "too_recent"
	default:
		return "untrusted"
	}
}

// DeorbitResult is the outcome of HandleDeorbit. UserHash and Age are only set
// once the signature has been verified.
type DeorbitResult struct {
	Outcome  DeorbitOutcome
	UserHash string
	Age      time.Duration
}

// UserHashOrEmpty returns the user to log out, or "" unless confirmed.
func (r DeorbitResult) UserHashOrEmpty() string {
	if r.Outcome != DeorbitConfirmed {
		return ""
	}
	return r.UserHash
}
