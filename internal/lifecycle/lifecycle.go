package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/florianilch/composr-connector/internal/authrequest"
	"github.com/florianilch/composr-connector/internal/tokenstore"
)

var (
	// ErrNoCredential means neither a valid access token nor a refresh token is available.
	ErrNoCredential = errors.New("no access token or refresh token available")

	// ErrNoRefreshToken is returned by RefreshUserToken when nothing is persisted to refresh with.
	ErrNoRefreshToken = fmt.Errorf("%w: missing refresh token", ErrNoCredential)
)

// In-flight operation keys.
const (
	keyValidate    = "validate"
	keyRefresh     = "refresh"
	keyClientLogin = "client-login"
)

// State is the validation state of a Lifecycle.
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Authenticator performs the network round-trips against the credential endpoints.
type Authenticator interface {
	AuthenticateClient(ctx context.Context) (*authrequest.TokenResponse, error)
	AuthenticateUser(ctx context.Context, email, password string, opts tokenstore.AuthOptions) (*authrequest.TokenResponse, error)
	RefreshUserToken(ctx context.Context, refreshToken string, opts tokenstore.AuthOptions) (*authrequest.TokenResponse, error)
	LogoutUser(ctx context.Context, accessToken string, opts tokenstore.AuthOptions) error
}

// Store persists credentials. Reads never fail; write failures are reported but not fatal.
type Store interface {
	ReadAll(ctx context.Context) tokenstore.Snapshot
	WriteUser(ctx context.Context, token tokenstore.UserToken, opts tokenstore.AuthOptions, remember bool) error
	WriteClient(ctx context.Context, token tokenstore.ClientToken) error
	ClearUser(ctx context.Context) error
}

// Lifecycle coordinates client and user credentials.
type Lifecycle struct {
	store Store
	auth  Authenticator

	options tokenstore.AuthOptions
	skew    time.Duration
	now     func() time.Time

	inflight      singleflight.Group
	state         atomic.Int32
	authenticated atomic.Bool
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithAuthOptions sets the options attached to new user sessions.
func WithAuthOptions(opts tokenstore.AuthOptions) Option {
	return func(l *Lifecycle) {
		l.options = opts.Clone()
	}
}

// WithClockSkew treats tokens as expired d before their expiry. Defaults to zero.
func WithClockSkew(d time.Duration) Option {
	return func(l *Lifecycle) {
		l.skew = d
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// New creates a Lifecycle. No I/O is performed until the first call.
func New(store Store, auth Authenticator, opts ...Option) (*Lifecycle, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if auth == nil {
		return nil, fmt.Errorf("missing authenticator")
	}

	l := &Lifecycle{
		store: store,
		auth:  auth,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Init acquires a client token and checks for a previous user session, setting the
// authenticated flag accordingly. Only a client login failure is returned.
func (l *Lifecycle) Init(ctx context.Context) error {
	_, clientErr := l.LoginClient(ctx)

	if _, err := l.AuthValidation(ctx); err != nil {
		slog.DebugContext(ctx, "no previous user session", "reason", err)
		l.authenticated.Store(false)
	} else {
		l.authenticated.Store(true)
	}

	return clientErr
}

// Authenticated reports whether a user session is currently established.
func (l *Lifecycle) Authenticated() bool {
	return l.authenticated.Load()
}

// State returns the current validation state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// AuthValidation checks for a usable user session and returns its access token.
// Concurrent calls while a validation is pending share that validation's outcome.
func (l *Lifecycle) AuthValidation(ctx context.Context) (string, error) {
	return shared(ctx, &l.inflight, keyValidate, func(ctx context.Context) (string, error) {
		l.state.Store(int32(StateValidating))
		defer l.state.Store(int32(StateResolved))

		return l.validateAccessToken(ctx)
	})
}

// validateAccessToken uses a cached access token if still valid, refreshes when a refresh token
// is available, and fails with ErrNoCredential otherwise.
func (l *Lifecycle) validateAccessToken(ctx context.Context) (string, error) {
	snap := l.store.ReadAll(ctx)

	if snap.User.ValidAt(l.now(), l.skew) {
		return snap.User.AccessToken, nil
	}

	if snap.User.RefreshToken != "" {
		token, err := l.RefreshUserToken(ctx)
		if err != nil {
			return "", err
		}
		return token.AccessToken, nil
	}

	return "", ErrNoCredential
}

// GetCurrentToken returns the user's access token when a session exists, otherwise a client token.
// It only fails when the client token cannot be acquired either.
func (l *Lifecycle) GetCurrentToken(ctx context.Context) (string, error) {
	token, err := l.AuthValidation(ctx)
	if err == nil {
		l.authenticated.Store(true)
		return token, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	slog.DebugContext(ctx, "falling back to client token", "reason", err)
	return l.LoginClient(ctx)
}

// LoginClient returns the persisted client token if valid, otherwise requests a new one.
// Concurrent requests for a new token share a single credential grant.
func (l *Lifecycle) LoginClient(ctx context.Context) (string, error) {
	snap := l.store.ReadAll(ctx)
	if snap.Client.ValidAt(l.now(), l.skew) {
		return snap.Client.AccessToken, nil
	}

	return shared(ctx, &l.inflight, keyClientLogin, func(ctx context.Context) (string, error) {
		resp, err := l.auth.AuthenticateClient(ctx)
		if err != nil {
			return "", err
		}

		token := tokenstore.ClientToken{
			AccessToken: resp.AccessToken,
			ExpiresAt:   resp.Expiry(),
		}
		if err := l.store.WriteClient(ctx, token); err != nil {
			slog.WarnContext(ctx, "failed to persist client token", "error", err)
		}

		slog.DebugContext(ctx, "acquired client token", "expires_at", token.ExpiresAt)
		return token.AccessToken, nil
	})
}

// LoginUser authenticates the user against the server, never short-circuiting on cached tokens.
// On success the token pair is persisted with the current auth options under the remember flag.
// The raw result is returned; failures are returned unchanged.
func (l *Lifecycle) LoginUser(ctx context.Context, email, password string, remember bool) (*authrequest.TokenResponse, error) {
	opts := l.options.Clone()

	resp, err := l.auth.AuthenticateUser(ctx, email, password, opts)
	if err != nil {
		return nil, err
	}

	token := tokenstore.UserToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.Expiry(),
	}
	if err := l.store.WriteUser(ctx, token, opts, remember); err != nil {
		slog.WarnContext(ctx, "failed to persist user token", "error", err)
	}
	l.authenticated.Store(true)

	slog.InfoContext(ctx, "user logged in", "remember", remember, "expires_at", token.ExpiresAt)
	return resp, nil
}

// RefreshUserToken exchanges the persisted refresh token, replaying the persisted auth options.
// It fails without a network call when no refresh token is stored. A failed refresh does not
// clear the session; concurrent refreshes share one request.
func (l *Lifecycle) RefreshUserToken(ctx context.Context) (tokenstore.UserToken, error) {
	return shared(ctx, &l.inflight, keyRefresh, func(ctx context.Context) (tokenstore.UserToken, error) {
		snap := l.store.ReadAll(ctx)
		if snap.User.RefreshToken == "" {
			return tokenstore.UserToken{}, ErrNoRefreshToken
		}

		resp, err := l.auth.RefreshUserToken(ctx, snap.User.RefreshToken, snap.Options)
		if err != nil {
			slog.WarnContext(ctx, "user token refresh failed", "error", err)
			return tokenstore.UserToken{}, err
		}

		token := tokenstore.UserToken{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			ExpiresAt:    resp.Expiry(),
		}
		if token.RefreshToken == "" {
			token.RefreshToken = snap.User.RefreshToken
		}
		if err := l.store.WriteUser(ctx, token, snap.Options, snap.Remember); err != nil {
			slog.WarnContext(ctx, "failed to persist refreshed user token", "error", err)
		}
		l.authenticated.Store(true)

		slog.DebugContext(ctx, "refreshed user token", "expires_at", token.ExpiresAt)
		return token, nil
	})
}

// LogoutUser marks the session unauthenticated and clears every persisted user credential, then
// signs out server-side with the token captured beforehand. Local state is gone even when the
// server call fails; that error is returned.
func (l *Lifecycle) LogoutUser(ctx context.Context) error {
	snap := l.store.ReadAll(ctx)

	l.authenticated.Store(false)
	if err := l.store.ClearUser(context.WithoutCancel(ctx)); err != nil {
		slog.WarnContext(ctx, "failed to clear persisted user data", "error", err)
	}

	if err := l.auth.LogoutUser(ctx, snap.User.AccessToken, snap.Options); err != nil {
		slog.WarnContext(ctx, "server logout failed, local session already cleared", "error", err)
		return err
	}

	slog.InfoContext(ctx, "user logged out")
	return nil
}

// shared runs fn once per key among concurrent callers. fn runs detached from the first caller's
// cancellation; each caller stops waiting when its own context ends.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
