package portalauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized matches request failures of kind KindUnauthorized.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches request failures of kind KindForbidden.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches request failures of kind KindNotFound.
	ErrNotFound = errors.New("not found or no access")
	// ErrRateLimited matches request failures of kind KindRateLimited.
	ErrRateLimited = errors.New("rate limited")
	// ErrServerError matches request failures of kind KindServerError.
	ErrServerError = errors.New("server error")
	// ErrNetworkTimeout matches request failures of kind KindNetworkTimeout.
	ErrNetworkTimeout = errors.New("network timeout")
	// ErrNetworkError matches request failures of kind KindNetworkError.
	ErrNetworkError = errors.New("network error")
	// ErrBadRequest matches request failures of kind KindBadRequest.
	ErrBadRequest = errors.New("request rejected")

	// ErrNoSession is returned when an operation needs a credential and none is set.
	ErrNoSession = errors.New("no session")
	// ErrSignInUnavailable is returned by SignIn when the identity provider is not configured.
	ErrSignInUnavailable = errors.New("sign-in unavailable")
	// ErrStaticTokenUnavailable is returned when the issuance endpoint answered without a token.
	ErrStaticTokenUnavailable = errors.New("static token unavailable")
	// ErrInvalidPortal is returned for portals missing from Config.Portals.
	ErrInvalidPortal = errors.New("invalid portal")
	// ErrRoleMismatch is returned by SignIn when the issued session carries the wrong role.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrClientClosed is returned after Client.Close.
	ErrClientClosed = errors.New("client closed")
)

// Kind tags the outcome of a failed request.
type Kind uint8

const (
	// KindUnauthorized means the session is invalid or expired.
	KindUnauthorized Kind = iota + 1
	// KindForbidden means the caller is authenticated but lacks the role.
	KindForbidden
	// KindNotFound covers both a missing resource and an obscured access denial.
	KindNotFound
	// KindRateLimited is a transient refusal; the gateway never retries it.
	KindRateLimited
	// KindServerError is a 5xx backend fault.
	KindServerError
	// KindNetworkTimeout means the bounded timeout fired and the call was aborted.
	KindNetworkTimeout
	// KindNetworkError is a transport failure (DNS, connect, reset).
	KindNetworkError
	// KindBadRequest is any other non-2xx status (400, 409, 422, ...).
	KindBadRequest
)

var kindNames = [...]string{
	KindUnauthorized:   "unauthorized",
	KindForbidden:      "forbidden",
	KindNotFound:       "not_found",
	KindRateLimited:    "rate_limited",
	KindServerError:    "server_error",
	KindNetworkTimeout: "network_timeout",
	KindNetworkError:   "network_error",
	KindBadRequest:     "bad_request",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindServerError:
		return ErrServerError
	case KindNetworkTimeout:
		return ErrNetworkTimeout
	case KindNetworkError:
		return ErrNetworkError
	case KindBadRequest:
		return ErrBadRequest
	default:
		return nil
	}
}

// RequestError is the only failure shape callers of the gateway inspect.
//
// Status is the HTTP status, or 0 for transport-level failures. Detail is safe
// to show to a user and never contains a raw response body.
type RequestError struct {
	Kind   Kind
	Status int
	Detail string

	// RetryAfter carries the server's Retry-After hint for KindRateLimited.
	RetryAfter time.Duration
	// RequestID is the X-Request-ID sent with (or echoed by) the request.
	RequestID string

	cause error
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is reports whether target is the sentinel for e.Kind.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if s := e.Kind.sentinel(); s != nil && target == s {
		return true
	}
	t, ok := target.(*RequestError)
	return ok && t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func newRequestError(kind Kind, status int, detail string, cause error) *RequestError {
	return &RequestError{Kind: kind, Status: status, Detail: detail, cause: cause}
}

// AsRequestError unwraps err into a *RequestError.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
