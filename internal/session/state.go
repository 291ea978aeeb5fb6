package session

import "slices"

type State string

const (
	Anonymous       State = "ANONYMOUS"
	LoggingIn       State = "LOGGING_IN"
	AwaitingCaptcha State = "AWAITING_CAPTCHA"
	Authenticated   State = "AUTHENTICATED"
	Expired         State = "EXPIRED"
	Banned          State = "BANNED"
)

var edges = map[State][]State{
	Anonymous:       {LoggingIn},
	LoggingIn:       {LoggingIn, AwaitingCaptcha, Authenticated, Banned},
	AwaitingCaptcha: {LoggingIn},
	Authenticated:   {Expired, Banned},
	Expired:         {LoggingIn},
}

// CanTransition reports whether from -> to is a legal edge. Teardown to
// Anonymous is always legal.
func CanTransition(from, to State) bool {
	if to == Anonymous {
		return true
	}
	return slices.Contains(edges[from], to)
}
