package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "sign in and persist the user session",
		ArgsUsage: "[email]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "email",
				Aliases: []string{"e"},
				Usage:   "account email (prompted when missing)",
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "account password (prompted without echo when missing)",
				Sources: cli.EnvVars("CONNECTOR_PASSWORD"),
			},
			&cli.BoolFlag{
				Name:    "remember",
				Aliases: []string{"r"},
				Usage:   "keep the session across restarts",
			},
		},
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	in := bufio.NewReader(cmd.Root().Reader)
	out := cmd.Root().ErrWriter

	email := cmd.String("email")
	if email == "" {
		email = cmd.Args().First()
	}
	if email == "" {
		if email, err = prompt(in, out, "Email: "); err != nil {
			return err
		}
	}

	password := cmd.String("password")
	if password == "" {
		if password, err = promptPassword(in, out, "Password: "); err != nil {
			return err
		}
	}

	remember := cmd.Bool("remember")
	resp, err := application.Lifecycle().LoginUser(ctx, email, password, remember)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.Root().Writer, "logged in as %s (expires %s, remember=%t)\n",
		email, resp.Expiry().Format(time.RFC3339), remember)
	return nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "sign out and clear the persisted user session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := application.Lifecycle().LogoutUser(ctx); err != nil {
				// Local state is cleared regardless
				slog.WarnContext(ctx, "server logout failed", "error", err)
			}
			_, _ = fmt.Fprintln(cmd.Root().Writer, "logged out")
			return nil
		},
	}
}

// statusReport describes the persisted session.
type statusReport struct {
	Authenticated   bool           `json:"authenticated" yaml:"authenticated"`
	State           string         `json:"state" yaml:"state"`
	Remember        bool           `json:"remember" yaml:"remember"`
	HasRefreshToken bool           `json:"has_refresh_token" yaml:"has_refresh_token"`
	UserExpiresAt   *time.Time     `json:"user_expires_at,omitempty" yaml:"user_expires_at,omitempty"`
	ClientExpiresAt *time.Time     `json:"client_expires_at,omitempty" yaml:"client_expires_at,omitempty"`
	Claims          map[string]any `json:"claims,omitempty" yaml:"claims,omitempty"`
	Error           string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "validate the user session and describe it",
		Flags: []cli.Flag{outputFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			lc := application.Lifecycle()
			report := statusReport{}
			if _, err := lc.AuthValidation(ctx); err != nil {
				report.Error = err.Error()
			} else {
				report.Authenticated = true
			}
			report.State = lc.State().String()

			snap := application.Store().ReadAll(ctx)
			report.Remember = snap.Remember
			report.HasRefreshToken = snap.User.RefreshToken != ""
			if !snap.User.ExpiresAt.IsZero() {
				report.UserExpiresAt = &snap.User.ExpiresAt
			}
			if !snap.Client.ExpiresAt.IsZero() {
				report.ClientExpiresAt = &snap.Client.ExpiresAt
			}
			report.Claims = unverifiedClaims(ctx, snap.User.AccessToken)

			return writeOutput(cmd.Root().Writer, cmd.String("output"), report)
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print the current access token, falling back to a client token",
		Flags: []cli.Flag{outputFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			token, err := application.Lifecycle().CurrentOAuth2Token(ctx)
			if err != nil {
				return fmt.Errorf("no token available: %w", err)
			}
			return writeOutput(cmd.Root().Writer, cmd.String("output"), token)
		},
	}
}

// unverifiedClaims decodes the access token's claims for display. Tokens that are not JWTs yield nil.
func unverifiedClaims(ctx context.Context, accessToken string) map[string]any {
	if accessToken == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		slog.DebugContext(ctx, "access token is not a decodable JWT", "error", err)
		return nil
	}
	return claims
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	_, _ = fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo from a terminal, or a plain line otherwise.
func promptPassword(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(in, out, label)
	}

	_, _ = fmt.Fprint(out, label)
	password, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}
