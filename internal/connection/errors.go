package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned by authenticated operations before a
	// refresh token has been obtained.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrTooManyRedirects is returned when a request chain exceeds the
	// redirect cap.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrRedirectForbidden is returned when the server answers a request
	// with a redirect but the request disallowed following it.
	ErrRedirectForbidden = errors.New("redirect requested but forbidden by request settings")

	// ErrSessionBlob is returned when a serialized session blob is empty,
	// truncated or of an unsupported version.
	ErrSessionBlob = errors.New("unsupported session data")
)

// SessionError marks a violated invariant of the authentication flow.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return "session: " + e.Op
	}
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// RegistrationError marks a failed app registration. Registration failures
// force a logout so no half-authenticated state survives.
type RegistrationError struct {
	Reason string
}

func (e *RegistrationError) Error() string {
	return "registration failed: " + e.Reason
}

// HTTPError carries an unexpected status code together with the call that
// produced it.
type HTTPError struct {
	Status int
	Verb   string
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %q failed: %d", e.Verb, e.URL, e.Status)
}

// DecodeError marks a response body that failed to parse. The payload is
// kept for logging.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
