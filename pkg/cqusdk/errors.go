package cqusdk

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrNotLogin is returned by operations that need an SSO login first,
	// and by the service ticket step when the gateway no longer recognises
	// the session.
	ErrNotLogin = errors.New("cqusdk: sso login required")

	// ErrNotAccess is returned when a service has no stored credential, or
	// when the service answered 401 to the stored one. Either way a fresh
	// access grant is needed.
	ErrNotAccess = errors.New("cqusdk: service access required")

	// ErrInvalidCredentials is what LoginInvalidCredentials.Err returns.
	// Login itself reports wrong credentials as a result, not an error.
	ErrInvalidCredentials = errors.New("cqusdk: invalid username or password")
)

// EncryptError reports a malformed salt on the SSO login page.
type EncryptError = cryptox.EncryptError

// ============================================================================
// Typed errors
// ============================================================================

// ProtocolError means a page element, header or JSON field the client relies
// on was missing, or a status code was not one the flow knows how to handle.
// It usually means the remote site changed and the client needs updating.
type ProtocolError struct {
	// Step names the flow step that failed, e.g. "login submit".
	Step string

	// StatusCode is the unexpected HTTP status, or 0 when the status was fine
	// but the content was not.
	StatusCode int

	// Detail describes what was missing.
	Detail string

	// Err is the underlying scrape or decode error, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	msg := "cqusdk: unexpected response during " + e.Step
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError wraps a network-level failure. Flows never retry; the whole
// flow has to be started again.
type TransportError struct {
	Op  string
	URL string // scheme, host and path only
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cqusdk: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LogoutError reports that the logout request could not be sent. During a
// forced relogin it is logged and the login continues.
type LogoutError struct {
	Err error
}

func (e *LogoutError) Error() string {
	return fmt.Sprintf("cqusdk: logout failed: %v", e.Err)
}

func (e *LogoutError) Unwrap() error { return e.Err }

// AccessError reports a failed access grant for a downstream service.
type AccessError struct {
	Service Service
	Detail  string
	Err     error
}

func (e *AccessError) Error() string {
	msg := fmt.Sprintf("cqusdk: %s access failed: %s", e.Service, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AccessError) Unwrap() error { return e.Err }
