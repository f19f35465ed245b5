package output

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vejapro/portalauth"
)

func TestParseColorMode(t *testing.T) {
	m, err := ParseColorMode("never")
	require.NoError(t, err)
	assert.Equal(t, ColorNever, m)

	_, err = ParseColorMode("sometimes")
	require.Error(t, err)
}

func TestResolveColorsHonorsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, ResolveColors(ColorAuto, true))
	assert.True(t, ResolveColors(ColorAlways, false))
}

func TestPrinterPlain(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, false)

	p.Success("signed in as %s", "ADMIN")
	p.Warning("token expires soon")
	p.Error("boom")

	assert.Equal(t, "[OK] signed in as ADMIN\n", out.String())
	assert.Contains(t, errOut.String(), "[WARN] token expires soon")
	assert.Contains(t, errOut.String(), "[ERROR] boom")
	assert.Equal(t, "[expired]", p.StateBadge("expired"))
}

func TestFormatError(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, false)

	p.FormatError(&CLIError{Summary: "no session", Detail: "empty", Suggestion: "log in"})
	assert.Equal(t, "[ERROR] no session\n  Cause: empty\n  Suggestion: log in\n", errOut.String())
}

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, []string{"portal", "kind"})
	tbl.AddRow("admin", "static")
	tbl.AddRow("expert", "session")
	require.NoError(t, tbl.Render())

	assert.Equal(t, 2, tbl.Len())
	assert.Contains(t, buf.String(), "admin")
	assert.Contains(t, buf.String(), "expert")
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	unauthorized := &portalauth.RequestError{Kind: portalauth.KindUnauthorized, Status: 401, Detail: "session expired"}
	got := Classify(fmt.Errorf("request: %w", unauthorized))
	assert.Equal(t, ExitAuthError, got.ExitCode)
	assert.Equal(t, "session expired", got.Summary)

	limited := &portalauth.RequestError{Kind: portalauth.KindRateLimited, Status: 429, Detail: "slow down", RetryAfter: 30 * time.Second}
	assert.Equal(t, "retry after 30s", Classify(limited).Suggestion)

	timeout := &portalauth.RequestError{Kind: portalauth.KindNetworkTimeout, Detail: "timed out"}
	assert.Equal(t, ExitNetwork, Classify(timeout).ExitCode)

	assert.Equal(t, ExitConfigError, Classify(portalauth.ErrSignInUnavailable).ExitCode)
	assert.Equal(t, ExitUsageError, Classify(fmt.Errorf("%w: %q", portalauth.ErrInvalidPortal, "x")).ExitCode)

	plain := Classify(errors.New("disk full"))
	assert.Equal(t, ExitGeneral, plain.ExitCode)
	assert.Equal(t, "disk full", plain.Summary)

	ce := &CLIError{Summary: "custom", ExitCode: ExitUsageError}
	assert.Same(t, ce, Classify(ce))
}
