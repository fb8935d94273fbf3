package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voltmoto/site/backend/internal/discovery"
	"github.com/voltmoto/site/backend/internal/gateflow"
)

// maxPasswordPrompts bounds retries after LOGIN_FAILURE in one run
const maxPasswordPrompts = 3

var (
	errAddressDenied = errors.New("address not authorized")
	errLoginFailed   = errors.New("login failed")
)

func newLoginCmd(app *App) *cobra.Command {
	var server, username, source, address string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Pass the gate and log in to a running server",
		Long: `Run the admin login flow against a server: discover this machine's address,
ask the server whether it is authorized, then prompt for the password.

On success the session cookie is stored in the OS keyring for later commands.

Address sources:
  public   ask the configured IP-echo service (default)
  private  use the first private ICE candidate
  server   use the address the server itself sees`,
		Example: `  gatectl login --server https://example.com --username rider
  gatectl login --server http://localhost:8080 --source private`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return fmt.Errorf("--server is required")
			}

			ctx, cancel := app.context(cmd)
			defer cancel()

			client, err := gateflow.NewClient(server, app.httpClientWithJar())
			if err != nil {
				return err
			}

			finder, err := app.loginDiscoverer(client, source, address)
			if err != nil {
				return err
			}

			base := strings.TrimRight(server, "/")
			nav := gateflow.NavigatorFunc(func(path string) {
				app.Logger.Debug("Navigate", "url", base+path)
			})
			flow := gateflow.NewFlow(finder, client, nav, gateflow.Config{
				NotFoundPath: app.Config.Server.NotFoundPath,
				SuccessPath:  app.Config.Server.ProtectedPrefix + "/dashboard",
			}, app.Logger)
			defer flow.Close()

			state, err := flow.Start(ctx)
			if err != nil {
				return err
			}
			if state == gateflow.StateDenied {
				if flow.Address() == "" {
					return fmt.Errorf("%w: discovery failed: %v", errAddressDenied, flow.Err())
				}
				return fmt.Errorf("%w: %s", errAddressDenied, flow.Address())
			}
			app.printf("Address %s authorized (%s)\n", flow.Address(), flow.DeviceName())

			if username == "" {
				if username, err = app.readLine("Username: "); err != nil {
					return err
				}
			}

			user, err := app.submitWithRetries(ctx, flow, username)
			if err != nil {
				return err
			}

			cookie, ok := client.SessionCookie()
			if !ok {
				return fmt.Errorf("%w: server did not set a session cookie", gateflow.ErrUnexpectedResponse)
			}
			if err := app.Sessions.Save(server, cookie); err != nil {
				return err
			}
			app.printf("Logged in as %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Base URL of the site backend")
	cmd.Flags().StringVar(&username, "username", "", "Username or email (prompted when empty)")
	cmd.Flags().StringVar(&source, "source", "public", "Address source: public, private or server")
	cmd.Flags().StringVar(&address, "address", "", "Skip discovery and present this address")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the stored session for a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return fmt.Errorf("--server is required")
			}
			ctx, cancel := app.context(cmd)
			defer cancel()

			cookie, err := app.Sessions.Load(server)
			if errors.Is(err, ErrNoSession) {
				app.printf("Not logged in to %s\n", server)
				return nil
			}
			if err != nil {
				return err
			}

			client, err := gateflow.NewClient(server, app.httpClientWithJar())
			if err != nil {
				return err
			}
			client.SetSessionCookie(cookie)
			if err := client.Logout(ctx); err != nil {
				app.Logger.Warn("Server logout failed, removing local session anyway", "error", err)
			}
			if err := app.Sessions.Delete(server); err != nil {
				return err
			}
			app.printf("Logged out of %s\n", server)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Base URL of the site backend")
	return cmd
}

func (a *App) submitWithRetries(ctx context.Context, flow *gateflow.Flow, username string) (*gateflow.User, error) {
	for attempt := 1; ; attempt++ {
		password, err := a.ReadSecret("Password: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}

		user, err := flow.SubmitLogin(ctx, username, password)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, gateflow.ErrDenied) {
			return nil, fmt.Errorf("%w: %s", errAddressDenied, flow.Address())
		}

		var loginErr *gateflow.LoginError
		if !errors.As(err, &loginErr) {
			return nil, err
		}
		fmt.Fprintf(a.ErrOut, "%s\n", loginErr.Message)
		if loginErr.Status == http.StatusTooManyRequests || attempt >= maxPasswordPrompts {
			return nil, fmt.Errorf("%w: %s", errLoginFailed, loginErr.Message)
		}
	}
}

// loginDiscoverer picks where the flow's address comes from
func (a *App) loginDiscoverer(client *gateflow.Client, source, fixed string) (discovery.Discoverer, error) {
	if fixed != "" {
		return discovery.Func(func(context.Context) (string, error) { return fixed, nil }), nil
	}
	switch source {
	case "", "public":
		return a.publicDiscoverer(), nil
	case "private":
		return a.privateDiscoverer(), nil
	case "server":
		return discovery.Func(client.PublicIP), nil
	default:
		return nil, fmt.Errorf("unknown address source %q", source)
	}
}

// httpClientWithJar copies the configured client so each flow gets its own cookie jar
func (a *App) httpClientWithJar() *http.Client {
	c := &http.Client{}
	if a.HTTPClient != nil {
		*c = *a.HTTPClient
	}
	c.Jar = nil
	return c
}

func (a *App) readLine(prompt string) (string, error) {
	fmt.Fprint(a.ErrOut, prompt)
	if a.lines == nil {
		a.lines = bufio.NewReader(a.In)
	}
	line, err := a.lines.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no input for %q", strings.TrimSuffix(prompt, ": "))
	}
	return line, nil
}
