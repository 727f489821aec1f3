package authrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/florianilch/composr-connector/internal/assertion"
	"github.com/florianilch/composr-connector/internal/tokenstore"
	"github.com/florianilch/composr-connector/internal/transport"
)

// Endpoint names looked up in Config.Endpoints.
const (
	EndpointLoginClient  = "loginClient"
	EndpointLogin        = "login"
	EndpointRefreshToken = "refreshToken"
	EndpointLogout       = "logout"
)

// Scope purposes looked up in Config.Scopes.
const (
	PurposeClient = "client"
	PurposeUser   = "user"
)

// ErrInvalidTokenResponse is returned when a credential endpoint answers 2xx without an access token.
var ErrInvalidTokenResponse = errors.New("invalid token response")

// Config describes the client registration used to build assertions.
type Config struct {
	BaseURL         string
	Endpoints       map[string]string
	ClientID        string
	ClientSecret    string
	Audience        string
	Scopes          map[string][]string
	DefaultHeaders  map[string]string
	DefaultAuthData map[string]any
}

// TokenResponse is the token triple returned by the credential endpoints.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is an epoch timestamp in milliseconds.
	ExpiresAt int64 `json:"expiresAt"`

	// Raw holds the unmodified response body.
	Raw json.RawMessage `json:"-"`
}

// Expiry returns ExpiresAt as a time.Time. A missing expiry yields the zero time.
func (r *TokenResponse) Expiry() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiresAt)
}

// Client issues credential requests.
type Client struct {
	cfg       Config
	signer    assertion.Signer
	transport transport.Transport
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the transport for credential requests.
// If not provided, transport.NewHTTPTransport() is used.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithSigner sets the assertion signer.
// If not provided, assertion.NewHS256Signer() is used.
func WithSigner(s assertion.Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing base url")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("missing client id")
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.signer == nil {
		c.signer = assertion.NewHS256Signer()
	}
	if c.transport == nil {
		c.transport = transport.NewHTTPTransport()
	}
	return c, nil
}

// AuthenticateClient requests a client-scoped token.
func (c *Client) AuthenticateClient(ctx context.Context) (*TokenResponse, error) {
	claims := c.createClaims(nil, PurposeClient)

	resp, err := c.authenticate(ctx, EndpointLoginClient, claims, nil)
	if err != nil {
		return nil, fmt.Errorf("client login: %w", err)
	}
	return decodeTokenResponse(resp)
}

// AuthenticateUser exchanges user credentials for a user token pair.
func (c *Client) AuthenticateUser(ctx context.Context, email, password string, opts tokenstore.AuthOptions) (*TokenResponse, error) {
	authData := map[string]any{
		"basic_auth.username": email,
		"basic_auth.password": password,
	}
	maps.Copy(authData, opts.AuthDataExtension)
	claims := c.createClaims(authData, PurposeUser)

	resp, err := c.authenticate(ctx, EndpointLogin, claims, opts.HeadersExtension)
	if err != nil {
		return nil, fmt.Errorf("user login: %w", err)
	}
	return decodeTokenResponse(resp)
}

// RefreshUserToken exchanges a refresh token for a new user token pair.
func (c *Client) RefreshUserToken(ctx context.Context, refreshToken string, opts tokenstore.AuthOptions) (*TokenResponse, error) {
	authData := map[string]any{
		"refresh_token": refreshToken,
	}
	maps.Copy(authData, opts.AuthDataExtension)
	claims := c.createClaims(authData, PurposeUser)

	resp, err := c.authenticate(ctx, EndpointRefreshToken, claims, opts.HeadersExtension)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return decodeTokenResponse(resp)
}

// LogoutUser signs the user out server-side.
func (c *Client) LogoutUser(ctx context.Context, accessToken string, opts tokenstore.AuthOptions) error {
	headers := map[string]string{
		"Authorization": accessToken,
	}
	maps.Copy(headers, opts.HeadersExtension)
	claims := c.createClaims(maps.Clone(opts.AuthDataExtension), PurposeUser)

	if _, err := c.authenticate(ctx, EndpointLogout, claims, headers); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// createClaims builds the claim set for purpose. Precedence: base claims, default auth data, authData.
func (c *Client) createClaims(authData map[string]any, purpose string) map[string]any {
	claims := map[string]any{
		"iss": c.cfg.ClientID,
		"aud": c.cfg.Audience,
	}
	if scopes := c.cfg.Scopes[purpose]; len(scopes) > 0 {
		claims["scope"] = scopes
	}
	maps.Copy(claims, c.cfg.DefaultAuthData)
	maps.Copy(claims, authData)
	return claims
}

// authenticate signs claims and POSTs the assertion to the named endpoint.
func (c *Client) authenticate(ctx context.Context, endpoint string, claims map[string]any, headers map[string]string) (*transport.Response, error) {
	path, ok := c.cfg.Endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("no path configured for endpoint %q", endpoint)
	}

	jwt, err := c.signer.Sign(claims, c.cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{"jwt": jwt})
	if err != nil {
		return nil, fmt.Errorf("encoding assertion body: %w", err)
	}

	header := transport.JSONHeaders()
	for k, v := range c.cfg.DefaultHeaders {
		header.Set(k, v)
	}
	for k, v := range headers {
		header.Set(k, v)
	}

	return c.transport.Send(ctx, &transport.Request{
		URL:    JoinURL(c.cfg.BaseURL, path),
		Method: http.MethodPost,
		Header: header,
		Body:   body,
	})
}

// decodeTokenResponse accepts both a bare token triple and one nested under "tokenObject".
func decodeTokenResponse(resp *transport.Response) (*TokenResponse, error) {
	var envelope struct {
		TokenResponse
		TokenObject *TokenResponse `json:"tokenObject"`
	}
	if err := resp.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTokenResponse, err)
	}

	token := envelope.TokenResponse
	if envelope.TokenObject != nil {
		token = *envelope.TokenObject
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrInvalidTokenResponse)
	}
	token.Raw = json.RawMessage(resp.Body)
	return &token, nil
}

// JoinURL appends path to base with exactly one separating slash.
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
