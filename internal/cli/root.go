// Package cli implements gatectl, the operator tool for the admin gate: it provisions
// authorized addresses and administrators, inspects the access log, runs address
// discovery and walks the login flow against a running server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/voltmoto/site/backend/internal/auth"
	"github.com/voltmoto/site/backend/internal/config"
	"github.com/voltmoto/site/backend/internal/discovery"
	"github.com/voltmoto/site/backend/internal/logger"
	"github.com/voltmoto/site/backend/internal/repository"
)

// Stores are the repositories the provisioning commands work on
type Stores struct {
	Addresses  repository.AddressRepository
	Attempts   repository.AttemptRepository
	Principals repository.PrincipalRepository
}

// App carries gatectl's dependencies. Tests replace the hooks.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer

	// OpenStores connects to the database; the returned func releases it
	OpenStores func(ctx context.Context, cfg *config.Config) (*Stores, func(), error)
	// ReadSecret reads a password without echo when stdin is a terminal
	ReadSecret func(prompt string) (string, error)
	Sessions   SessionStore
	HTTPClient *http.Client
	// Passwords hashes new administrator passwords; nil uses the default bcrypt cost
	Passwords *auth.Passwords
	// PrivateSource builds the ICE candidate source for private discovery
	PrivateSource func(stunServers []string) discovery.CandidateSource

	verbose bool
	timeout time.Duration
	lines   *bufio.Reader
}

// NewApp returns an App wired to the real database, terminal and OS keyring
func NewApp(cfg *config.Config) *App {
	app := &App{
		Config:     cfg,
		In:         os.Stdin,
		Out:        os.Stdout,
		ErrOut:     os.Stderr,
		OpenStores: openStores,
		Sessions:   NewKeyringSessions(KeyringService),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		PrivateSource: func(stun []string) discovery.CandidateSource {
			return discovery.NewWebRTCSource(stun)
		},
	}
	app.ReadSecret = app.promptSecret
	return app
}

var versionInfo = struct {
	version string
	commit  string
}{version: "dev", commit: "unknown"}

// SetVersion sets the version printed by `gatectl version`
func SetVersion(version, commit string) {
	versionInfo.version = version
	versionInfo.commit = commit
}

// NewRootCommand builds the command tree around app
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "gatectl",
		Short: "Operate the admin IP gate",
		Long: `gatectl manages the admin gate of the site backend.

It talks to the database for provisioning (authorized addresses, administrators,
the access attempt log) and to a running server for discovery and login.

Examples:
  gatectl address add 203.0.113.7 --name "Office router"
  gatectl admin create --username rider --email rider@example.com
  gatectl attempts list --limit 20
  gatectl discover --private
  gatectl login --server https://example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.initLogger()
		},
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	root.PersistentFlags().BoolVar(&app.verbose, "verbose", false, "Enable debug logging on stderr")
	root.PersistentFlags().DurationVar(&app.timeout, "timeout", 30*time.Second, "Overall timeout for the command")

	root.AddGroup(&cobra.Group{ID: "provision", Title: "Provisioning Commands:"})
	root.AddGroup(&cobra.Group{ID: "gate", Title: "Gate Commands:"})

	for _, cmd := range []*cobra.Command{newAddressCmd(app), newAttemptsCmd(app), newAdminCmd(app)} {
		cmd.GroupID = "provision"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{newDiscoverCmd(app), newLoginCmd(app), newLogoutCmd(app)} {
		cmd.GroupID = "gate"
		root.AddCommand(cmd)
	}
	root.AddCommand(newVersionCmd(app))

	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.ErrOut)
	return root
}

// Execute runs gatectl and exits non-zero on error
func Execute() {
	app := NewApp(config.Load())
	if err := NewRootCommand(app).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps well-known failures to distinct codes for scripts
func exitCode(err error) int {
	switch {
	case errors.Is(err, errAddressDenied):
		return 2
	case errors.Is(err, errLoginFailed):
		return 3
	case errors.Is(err, repository.ErrAddressNotFound), errors.Is(err, repository.ErrPrincipalNotFound):
		return 4
	case errors.Is(err, repository.ErrAddressExists), errors.Is(err, repository.ErrPrincipalExists):
		return 5
	default:
		return 1
	}
}

func (a *App) initLogger() {
	if a.Logger != nil {
		return
	}
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	a.Logger = logger.NewWithWriter(logger.Config{Level: level, Format: "text"}, a.ErrOut)
}

func (a *App) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := a.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

// withStores opens the database for the duration of fn
func (a *App) withStores(cmd *cobra.Command, fn func(ctx context.Context, s *Stores) error) error {
	ctx, cancel := a.context(cmd)
	defer cancel()

	stores, release, err := a.OpenStores(ctx, a.Config)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer release()
	return fn(ctx, stores)
}

func openStores(ctx context.Context, cfg *config.Config) (*Stores, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return &Stores{
		Addresses:  repository.NewAddressRepository(pool),
		Attempts:   repository.NewAttemptRepository(pool),
		Principals: repository.NewPrincipalRepository(pool),
	}, pool.Close, nil
}

// promptSecret reads without echo from a terminal, or one line from a pipe
func (a *App) promptSecret(prompt string) (string, error) {
	fmt.Fprint(a.ErrOut, prompt)

	if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.ErrOut)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	if a.lines == nil {
		a.lines = bufio.NewReader(a.In)
	}
	line, err := a.lines.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.Out, format, args...)
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			app.printf("gatectl %s (%s)\n", versionInfo.version, versionInfo.commit)
		},
	}
}
