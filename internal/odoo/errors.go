package odoo

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the normalized failure category every Odoo-facing error is
// classified into, matching the taxonomy surfaced to MCP callers.
type Kind string

const (
	KindOdooError          Kind = "odoo_error"
	KindAuthenticationError Kind = "authentication_error"
	KindAccessDenied        Kind = "access_denied"
	KindTimeout             Kind = "timeout"
	KindTransportError      Kind = "transport_error"
	KindInternalError       Kind = "internal_error"
)

// Sentinel errors usable with errors.Is, mirroring the corpus's
// sentinel-plus-structured-wrapper taxonomy.
var (
	ErrAuthenticationFailed = errors.New("odoo: authentication failed")
	ErrAccessDenied         = errors.New("odoo: access denied")
	ErrTimeout              = errors.New("odoo: request timed out")
	ErrTransport            = errors.New("odoo: transport failure")
)

// Error is the structured failure value returned by every Client method.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("odoo %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("odoo %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// newError builds an *Error and tags it with the matching sentinel so
// errors.Is keeps working regardless of which variant produced it.
func newError(kind Kind, status int, message string, cause error) *Error {
	sentinel := map[Kind]error{
		KindAuthenticationError: ErrAuthenticationFailed,
		KindAccessDenied:        ErrAccessDenied,
		KindTimeout:             ErrTimeout,
		KindTransportError:      ErrTransport,
	}[kind]
	if sentinel != nil {
		if cause == nil {
			cause = sentinel
		} else {
			cause = fmt.Errorf("%w: %v", sentinel, cause)
		}
	}
	return &Error{Kind: kind, Message: message, HTTPStatus: status, Cause: cause}
}

// classifyHTTPStatus maps an HTTP status code from the modern client's
// envelope to a Kind, per the protocol-selection/error-propagation rules.
func classifyHTTPStatus(status int, body string) *Error {
	switch {
	case status == 401:
		return newError(KindAuthenticationError, status, "unauthorized", errors.New(body))
	case status == 403:
		return newError(KindAccessDenied, status, "forbidden", errors.New(body))
	case status == 408 || status == 504:
		return newError(KindTimeout, status, "request timed out", errors.New(body))
	case status >= 500:
		return newError(KindTransportError, status, "server error", errors.New(body))
	default:
		return newError(KindOdooError, status, "odoo returned an application error", errors.New(body))
	}
}

// authExceptionNames are Odoo exception class names (found in a JSON-RPC
// error's error.data.name) that indicate the legacy session has expired or
// was rejected, triggering the single-relogin-and-retry policy.
var authExceptionNames = []string{
	"odoo.exceptions.AccessDenied",
	"SessionExpiredException",
	"odoo.http.SessionExpiredException",
}

// isAuthException reports whether name denotes a server-declared
// authentication failure for the legacy protocol.
func isAuthException(name string) bool {
	for _, candidate := range authExceptionNames {
		if strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}

// classifyFault turns a legacy JSON-RPC error object into an *Error, using
// the exception class name when present and falling back to a
// message-substring heuristic otherwise, the shape of the corpus's
// regex/strings.Contains-based XML-RPC fault classifiers.
func classifyFault(excName, message string) *Error {
	if isAuthException(excName) {
		return newError(KindAuthenticationError, 0, message, nil)
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "access denied") || strings.Contains(lower, "access rights"):
		return newError(KindAccessDenied, 0, message, nil)
	case strings.Contains(lower, "not logged in") || strings.Contains(lower, "session expired"):
		return newError(KindAuthenticationError, 0, message, nil)
	default:
		return newError(KindOdooError, 0, message, nil)
	}
}
