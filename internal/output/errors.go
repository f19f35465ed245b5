package output

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/vejapro/portalauth"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitUsageError  = 2
	ExitAuthError   = 3
	ExitConfigError = 4
	ExitNetwork     = 5
)

// CLIError is an error with a user-facing suggestion and exit code.
type CLIError struct {
	Summary    string
	Detail     string
	Suggestion string
	ExitCode   int
}

func (e *CLIError) Error() string {
	return e.Summary
}

// FormatError prints e to the error stream.
func (p *Printer) FormatError(e *CLIError) {
	if p.useColors {
		color.New(color.FgRed, color.Bold).Fprintf(p.err, "Error: %s\n", e.Summary)
	} else {
		fmt.Fprintf(p.err, "[ERROR] %s\n", e.Summary)
	}
	if e.Detail != "" {
		fmt.Fprintf(p.err, "  Cause: %s\n", e.Detail)
	}
	if e.Suggestion != "" {
		if p.useColors {
			color.New(color.FgCyan).Fprintf(p.err, "  Suggestion: %s\n", e.Suggestion)
		} else {
			fmt.Fprintf(p.err, "  Suggestion: %s\n", e.Suggestion)
		}
	}
}

// Classify turns a portalauth failure into a CLIError. Unknown errors keep
// their message and exit with ExitGeneral.
func Classify(err error) *CLIError {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}

	if re, ok := portalauth.AsRequestError(err); ok {
		out := &CLIError{Summary: re.Detail, ExitCode: ExitGeneral}
		if re.RequestID != "" {
			out.Detail = "request id " + re.RequestID
		}
		switch re.Kind {
		case portalauth.KindUnauthorized:
			out.ExitCode = ExitAuthError
			out.Suggestion = "sign in again with 'portalctl login' or set a token with 'portalctl token set'"
		case portalauth.KindForbidden, portalauth.KindNotFound:
			out.ExitCode = ExitAuthError
		case portalauth.KindRateLimited:
			if re.RetryAfter > 0 {
				out.Suggestion = fmt.Sprintf("retry after %s", re.RetryAfter)
			}
		case portalauth.KindNetworkTimeout, portalauth.KindNetworkError:
			out.ExitCode = ExitNetwork
			out.Suggestion = "check --api-url and that the backend is reachable"
		}
		return out
	}

	switch {
	case errors.Is(err, portalauth.ErrSignInUnavailable):
		return &CLIError{
			Summary:    "sign-in is not configured",
			Suggestion: "set --identity-url and --identity-key, or use 'portalctl token set'",
			ExitCode:   ExitConfigError,
		}
	case errors.Is(err, portalauth.ErrRoleMismatch):
		return &CLIError{
			Summary:    "account role does not match this portal",
			Suggestion: "switch portals with 'portalctl portal switch'",
			ExitCode:   ExitAuthError,
		}
	case errors.Is(err, portalauth.ErrNoSession):
		return &CLIError{
			Summary:    "no session",
			Suggestion: "sign in with 'portalctl login'",
			ExitCode:   ExitAuthError,
		}
	case errors.Is(err, portalauth.ErrInvalidPortal):
		return &CLIError{Summary: err.Error(), ExitCode: ExitUsageError}
	}
	return &CLIError{Summary: err.Error(), ExitCode: ExitGeneral}
}
