package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Storage keys shared by both tiers.
const (
	keyAccessToken       = "accessToken"
	keyRefreshToken      = "refreshToken"
	keyExpiresAt         = "expiresAt"
	keyRemember          = "remember"
	keyAuthOptions       = "authOptions"
	keyClientAccessToken = "clientAccessToken"
	keyClientExpiresAt   = "clientExpiresAt"
)

// userKeys are removed from both tiers when the user signs out.
var userKeys = []string{keyRefreshToken, keyAccessToken, keyExpiresAt, keyRemember, keyAuthOptions}

// Store reads and writes the credential model across a durable and a session Backend.
type Store struct {
	durable Backend
	session Backend

	jar       http.CookieJar
	cookieURL *url.URL
	cookies   []string

	mu     sync.RWMutex
	cached Snapshot
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCookies registers session cookies that ClearUser expires in jar for the given URL.
func WithCookies(jar http.CookieJar, u *url.URL, names ...string) StoreOption {
	return func(s *Store) {
		s.jar = jar
		s.cookieURL = u
		s.cookies = append(s.cookies, names...)
	}
}

// NewStore creates a Store over the given tiers. No I/O is performed.
func NewStore(durable, session Backend, opts ...StoreOption) (*Store, error) {
	if durable == nil {
		return nil, fmt.Errorf("missing durable backend")
	}
	if session == nil {
		return nil, fmt.Errorf("missing session backend")
	}

	s := &Store{
		durable: durable,
		session: session,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ReadAll returns the best-known credentials from both tiers and refreshes the in-memory cache.
// It never fails: missing or corrupt values resolve to empty defaults.
func (s *Store) ReadAll(ctx context.Context) Snapshot {
	user, tier, fallback := s.readUser(ctx)
	snap := Snapshot{
		Client: ClientToken{
			AccessToken: s.get(ctx, s.session, keyClientAccessToken),
			ExpiresAt:   parseExpiry(s.get(ctx, s.session, keyClientExpiresAt)),
		},
		User:     user,
		Options:  s.readOptions(ctx, tier, fallback),
		Remember: s.get(ctx, s.session, keyRemember) == "true" || s.get(ctx, s.durable, keyRemember) == "true",
	}

	s.mu.Lock()
	s.cached = snap
	s.mu.Unlock()

	return snap
}

// Cached returns the snapshot from the last read or write without touching storage.
func (s *Store) Cached() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// WriteUser persists the user token and its options. With remember the token is mirrored into
// both tiers; otherwise it is written to the session tier only and any durable copy is removed.
// The cache always reflects what was written, even when a backend write fails.
func (s *Store) WriteUser(ctx context.Context, token UserToken, opts AuthOptions, remember bool) error {
	encodedOpts, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encoding auth options: %w", err)
	}

	entries := [][2]string{
		{keyAccessToken, token.AccessToken},
		{keyRefreshToken, token.RefreshToken},
		{keyExpiresAt, formatExpiry(token.ExpiresAt)},
		{keyAuthOptions, string(encodedOpts)},
	}
	if remember {
		entries = append(entries, [2]string{keyRemember, "true"})
	}

	var errs []error
	if remember {
		errs = append(errs, s.setAll(ctx, s.durable, entries)...)
	} else {
		errs = append(errs, s.removeAll(ctx, s.durable, userKeys)...)
		errs = append(errs, s.removeAll(ctx, s.session, []string{keyRemember})...)
	}
	errs = append(errs, s.setAll(ctx, s.session, entries)...)

	s.mu.Lock()
	s.cached.User = token
	s.cached.Options = opts.Clone()
	s.cached.Remember = remember
	s.mu.Unlock()

	return errors.Join(errs...)
}

// WriteClient persists the client token in the session tier only. Client tokens are cheap to
// reacquire and are never remembered across restarts.
func (s *Store) WriteClient(ctx context.Context, token ClientToken) error {
	errs := s.setAll(ctx, s.session, [][2]string{
		{keyClientAccessToken, token.AccessToken},
		{keyClientExpiresAt, formatExpiry(token.ExpiresAt)},
	})

	s.mu.Lock()
	s.cached.Client = token
	s.mu.Unlock()

	return errors.Join(errs...)
}

// ClearUser removes the user token, options and remember flag from both tiers and expires every
// tracked session cookie. Absent values and cookies are not an error.
func (s *Store) ClearUser(ctx context.Context) error {
	var errs []error
	errs = append(errs, s.removeAll(ctx, s.durable, userKeys)...)
	errs = append(errs, s.removeAll(ctx, s.session, userKeys)...)
	s.expireCookies()

	s.mu.Lock()
	s.cached.User = UserToken{}
	s.cached.Options = AuthOptions{}
	s.cached.Remember = false
	s.mu.Unlock()

	return errors.Join(errs...)
}

// readUser resolves the user token and reports which tier it came from. When both tiers carry
// an expiry the later one wins and the durable tier takes a tie.
func (s *Store) readUser(ctx context.Context) (UserToken, Backend, Backend) {
	sessionToken := s.readUserTier(ctx, s.session)
	durableToken := s.readUserTier(ctx, s.durable)

	winner, other := sessionToken, durableToken
	winnerTier, otherTier := s.session, s.durable
	switch {
	case !sessionToken.ExpiresAt.IsZero() && !durableToken.ExpiresAt.IsZero():
		if !sessionToken.ExpiresAt.After(durableToken.ExpiresAt) {
			winner, other = durableToken, sessionToken
			winnerTier, otherTier = s.durable, s.session
		}
	case sessionToken.ExpiresAt.IsZero() && !durableToken.ExpiresAt.IsZero():
		winner, other = durableToken, sessionToken
		winnerTier, otherTier = s.durable, s.session
	}

	if winner.RefreshToken == "" {
		winner.RefreshToken = other.RefreshToken
	}
	return winner, winnerTier, otherTier
}

func (s *Store) readUserTier(ctx context.Context, b Backend) UserToken {
	return UserToken{
		AccessToken:  s.get(ctx, b, keyAccessToken),
		RefreshToken: s.get(ctx, b, keyRefreshToken),
		ExpiresAt:    parseExpiry(s.get(ctx, b, keyExpiresAt)),
	}
}

// readOptions reads the options stored next to the winning token, then the other tier.
func (s *Store) readOptions(ctx context.Context, primary, fallback Backend) AuthOptions {
	raw := s.get(ctx, primary, keyAuthOptions)
	if raw == "" {
		raw = s.get(ctx, fallback, keyAuthOptions)
	}
	if raw == "" {
		return AuthOptions{}
	}

	opts, ok := parseAuthOptions(raw)
	if !ok {
		slog.DebugContext(ctx, "discarding malformed persisted auth options")
		return AuthOptions{}
	}
	return opts
}

// get reads a key, absorbing every error into the empty string.
func (s *Store) get(ctx context.Context, b Backend, key string) string {
	value, err := b.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.DebugContext(ctx, "storage read failed", "key", key, "error", err)
		}
		return ""
	}
	return value
}

func (s *Store) setAll(ctx context.Context, b Backend, entries [][2]string) []error {
	var errs []error
	for _, entry := range entries {
		if err := b.Set(ctx, entry[0], entry[1]); err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", entry[0], err))
		}
	}
	return errs
}

// removeAll deletes keys. Read-only backends are skipped, nothing could have been written there.
func (s *Store) removeAll(ctx context.Context, b Backend, keys []string) []error {
	var errs []error
	for _, key := range keys {
		if err := b.Remove(ctx, key); err != nil && !errors.Is(err, ErrReadOnly) {
			errs = append(errs, fmt.Errorf("removing %s: %w", key, err))
		}
	}
	return errs
}

func (s *Store) expireCookies() {
	if s.jar == nil || s.cookieURL == nil || len(s.cookies) == 0 {
		return
	}

	expired := make([]*http.Cookie, 0, len(s.cookies))
	for _, name := range s.cookies {
		expired = append(expired, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
	}
	s.jar.SetCookies(s.cookieURL, expired)
}

// Expiries are persisted as epoch milliseconds.
func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
