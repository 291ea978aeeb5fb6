package session

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCredentials  = errors.New("phone and password are required")
	ErrBadCredentials    = errors.New("login rejected: bad credentials")
	ErrAccountBanned     = errors.New("account banned or locked by risk control")
	ErrSessionExpired    = errors.New("session expired: login required")
	ErrCaptchaRequired   = errors.New("captcha must be solved by a human")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrClosed            = errors.New("session closed")
	ErrNoProxies         = errors.New("proxy use requested but no proxies configured")
)

// CaptchaError is the non-fatal signal that a human must solve a challenge
// before login is invoked again.
type CaptchaError struct {
	Marker string
	URL    string
}

func (e *CaptchaError) Error() string {
	return fmt.Sprintf("captcha detected (marker %s): solve it in the browser and retry", e.Marker)
}

func (e *CaptchaError) Is(target error) bool {
	return target == ErrCaptchaRequired
}
