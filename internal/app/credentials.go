package app

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/florianilch/composr-connector/internal/assertion"
	"github.com/florianilch/composr-connector/internal/authrequest"
	"github.com/florianilch/composr-connector/internal/tokenstore"
	"github.com/florianilch/composr-connector/internal/transport"
)

// Device identifier keys attached to new sessions.
const (
	deviceIDHeader = "Deviceid"
	deviceIDClaim  = "device_id"
)

func newTransport(cfg APIConfig, jar http.CookieJar) *transport.HTTPTransport {
	return transport.NewHTTPTransport(
		transport.WithCookieJar(jar),
		transport.WithTimeout(cfg.Timeout),
	)
}

func newAuthClient(baseURL string, cfg *Config, t transport.Transport) (*authrequest.Client, error) {
	signer := assertion.NewHS256Signer(assertion.WithLifetime(cfg.Auth.AssertionLifetime))

	return authrequest.New(authrequest.Config{
		BaseURL:         baseURL,
		Endpoints:       cfg.API.Endpoints,
		ClientID:        cfg.Auth.ClientID,
		ClientSecret:    cfg.Auth.ClientSecret,
		Audience:        cfg.Auth.Audience,
		Scopes:          cfg.Auth.scopesByPurpose(),
		DefaultHeaders:  cfg.Auth.DefaultHeaders,
		DefaultAuthData: cfg.Auth.DefaultAuthData,
	}, authrequest.WithTransport(t), authrequest.WithSigner(signer))
}

// defaultAuthOptions attaches one device identifier to new sessions, sent both as a header and
// as an assertion claim. Refreshes replay the options persisted with the session instead.
func defaultAuthOptions(cfg AuthConfig) tokenstore.AuthOptions {
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = cfg.DeviceIDPrefix + uuid.NewString()
	}

	return tokenstore.AuthOptions{
		HeadersExtension:  map[string]string{deviceIDHeader: deviceID},
		AuthDataExtension: map[string]any{deviceIDClaim: deviceID},
	}
}
