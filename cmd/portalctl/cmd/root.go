// Package cmd contains the portalctl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vejapro/portalauth"
	"github.com/vejapro/portalauth/internal/cliconfig"
	"github.com/vejapro/portalauth/internal/output"
	"github.com/vejapro/portalauth/session"
)

var version = "dev"

// SetVersion sets the version string reported by "portalctl version".
func SetVersion(v string) {
	version = v
}

// activePortalFile remembers the portal chosen by "portal switch".
const activePortalFile = "active-portal"

// app is the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	color   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// httpClient overrides the transport, for tests.
	httpClient *http.Client

	cfg     *cliconfig.Config
	logger  zerolog.Logger
	printer *output.Printer
	backend *session.FileBackend
}

// Execute runs portalctl with os.Args and returns the exit code.
func Execute() int {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	root := newRootCommand(a)
	if err := root.Execute(); err != nil {
		return a.fail(err)
	}
	return output.ExitSuccess
}

func (a *app) fail(err error) int {
	p := a.printer
	if p == nil {
		p = output.NewPrinter(a.stdout, a.stderr, false)
	}
	ce := output.Classify(err)
	p.FormatError(ce)
	return ce.ExitCode
}

func newRootCommand(a *app) *cobra.Command {
	a.v = viper.New()

	root := &cobra.Command{
		Use:   "portalctl",
		Short: "VejaPRO portal session CLI",
		Long: `portalctl keeps a VejaPRO portal session on disk and sends authenticated
requests with it, refreshing the access token when it is about to expire.

Example usage:
  portalctl login ops@vejapro.lt        # Password sign-in (reads the password from stdin)
  portalctl token set <token>           # Use a static admin token instead
  portalctl whoami                      # Show the active credential
  portalctl request /api/v1/admin/projects
  portalctl portal switch expert        # Drop other portals' credentials
  portalctl logout`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.portalctl.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&a.color, "color", "auto", "color output: auto, always, never")
	flags.String("api-url", "", "backend base URL")
	flags.String("identity-url", "", "identity provider base URL")
	flags.String("identity-key", "", "identity provider public API key")
	flags.String("portal", "", "portal to act on (admin, client, contractor, expert)")
	flags.String("session-dir", "", "directory holding stored credentials")

	_ = a.v.BindPFlag("api.url", flags.Lookup("api-url"))
	_ = a.v.BindPFlag("identity.url", flags.Lookup("identity-url"))
	_ = a.v.BindPFlag("identity.key", flags.Lookup("identity-key"))
	_ = a.v.BindPFlag("session.portal", flags.Lookup("portal"))
	_ = a.v.BindPFlag("session.dir", flags.Lookup("session-dir"))

	root.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newTokenCommand(a),
		newWhoamiCommand(a),
		newRequestCommand(a),
		newPortalCommand(a),
		newSessionsCommand(a),
		newMetricsCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) init() error {
	mode, err := output.ParseColorMode(a.color)
	if err != nil {
		return &output.CLIError{Summary: err.Error(), ExitCode: output.ExitUsageError}
	}

	cfg, err := cliconfig.Load(a.v, a.cfgFile)
	if err != nil {
		return &output.CLIError{Summary: "invalid configuration", Detail: err.Error(), ExitCode: output.ExitConfigError}
	}
	a.cfg = cfg
	a.printer = output.NewPrinter(a.stdout, a.stderr, output.ResolveColors(mode, cfg.Output.Colors))

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		level = parsed
	}
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, NoColor: mode == output.ColorNever}).
		Level(level).
		With().Timestamp().Str("component", "portalctl").Logger()

	backend, err := session.NewFileBackend(cfg.Session.Dir)
	if err != nil {
		return &output.CLIError{Summary: "cannot open session directory", Detail: err.Error(), ExitCode: output.ExitConfigError}
	}
	a.backend = backend

	a.logger.Debug().
		Str("api_url", cfg.API.URL).
		Str("session_dir", cfg.Session.Dir).
		Str("config_file", a.v.ConfigFileUsed()).
		Msg("configuration loaded")
	return nil
}

// portal resolves the active portal: an explicit --portal or config value
// first, then the last "portal switch", then the admin portal.
func (a *app) portal() portalauth.Portal {
	if a.cfg.Session.Portal != "" {
		return portalauth.Portal(a.cfg.Session.Portal)
	}
	data, err := os.ReadFile(filepath.Join(a.cfg.Session.Dir, activePortalFile))
	if err == nil {
		if p := strings.TrimSpace(string(data)); p != "" {
			return portalauth.Portal(p)
		}
	}
	return portalauth.PortalAdmin
}

func (a *app) rememberPortal(p portalauth.Portal) error {
	path := filepath.Join(a.cfg.Session.Dir, activePortalFile)
	if err := os.WriteFile(path, []byte(string(p)+"\n"), 0o600); err != nil {
		return fmt.Errorf("remember portal: %w", err)
	}
	return nil
}

// client builds a portalauth client over the file backend for the active
// portal. Callers close it.
func (a *app) client() (*portalauth.Client, error) {
	cfg := a.cfg.ClientConfig()
	cfg.Session.DefaultPortal = a.portal()
	if _, ok := cfg.Portals[cfg.Session.DefaultPortal]; !ok {
		return nil, fmt.Errorf("%w: %q", portalauth.ErrInvalidPortal, cfg.Session.DefaultPortal)
	}

	b := portalauth.New().
		WithConfig(cfg).
		WithBackend(a.backend).
		WithLogger(a.logger).
		WithNavigator(portalauth.NavigatorFunc(a.navigate)).
		WithPrompter(portalauth.PrompterFunc(a.promptToken))
	if a.httpClient != nil {
		b.WithHTTPClient(a.httpClient)
	}

	c, err := b.Build()
	if err != nil {
		return nil, &output.CLIError{Summary: "invalid configuration", Detail: err.Error(), ExitCode: output.ExitConfigError}
	}
	return c, nil
}

func (a *app) navigate(_ context.Context, target portalauth.SignInTarget) {
	switch target.Reason {
	case portalauth.NavLogout:
		return
	case portalauth.NavRoleMismatch:
		a.printer.Warning("account role does not match the %s portal; credentials cleared", target.Portal)
	default:
		a.printer.Warning("%s session ended (%s); sign in again with 'portalctl login'", target.Portal, target.Reason)
	}
}

func (a *app) promptToken(_ context.Context, portal portalauth.Portal) {
	a.printer.Warning("the %s static token was rejected; set a new one with 'portalctl token set'", portal)
}

// withClient runs fn with a client and closes it afterwards.
func (a *app) withClient(fn func(*portalauth.Client) error) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func usageError(format string, args ...any) error {
	return &output.CLIError{Summary: fmt.Sprintf(format, args...), ExitCode: output.ExitUsageError}
}
