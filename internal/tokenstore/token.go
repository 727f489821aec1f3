package tokenstore

import (
	"encoding/json"
	"maps"
	"time"
)

// ClientToken is the machine-level credential obtained with the client-credentials grant.
// It has no refresh token and is re-issued from scratch when it expires.
type ClientToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ValidAt reports whether the token can be used at now, treating it as expired skew early.
func (t ClientToken) ValidAt(now time.Time, skew time.Duration) bool {
	return validAt(t.AccessToken, t.ExpiresAt, now, skew)
}

// UserToken is a signed-in user's session. The refresh token has no client-side expiry;
// only the server decides whether it is still usable.
type UserToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ValidAt reports whether the access token can be used at now, treating it as expired skew early.
func (t UserToken) ValidAt(now time.Time, skew time.Duration) bool {
	return validAt(t.AccessToken, t.ExpiresAt, now, skew)
}

func validAt(accessToken string, expiresAt, now time.Time, skew time.Duration) bool {
	if accessToken == "" || expiresAt.IsZero() {
		return false
	}
	return now.Add(skew).Before(expiresAt)
}

// AuthOptions are per-session parameters replayed on every login, refresh and logout call.
// They are persisted alongside the user token so a refreshed session keeps the options it was created with.
type AuthOptions struct {
	HeadersExtension  map[string]string `json:"headersExtension,omitempty"`
	AuthDataExtension map[string]any    `json:"authDataExtension,omitempty"`
}

// Merge returns a copy of o overlaid with ext. Values in ext take precedence.
func (o AuthOptions) Merge(ext AuthOptions) AuthOptions {
	merged := o.Clone()
	if len(ext.HeadersExtension) > 0 && merged.HeadersExtension == nil {
		merged.HeadersExtension = make(map[string]string, len(ext.HeadersExtension))
	}
	maps.Copy(merged.HeadersExtension, ext.HeadersExtension)
	if len(ext.AuthDataExtension) > 0 && merged.AuthDataExtension == nil {
		merged.AuthDataExtension = make(map[string]any, len(ext.AuthDataExtension))
	}
	maps.Copy(merged.AuthDataExtension, ext.AuthDataExtension)
	return merged
}

// Clone returns a copy of o that shares no maps with it.
func (o AuthOptions) Clone() AuthOptions {
	return AuthOptions{
		HeadersExtension:  maps.Clone(o.HeadersExtension),
		AuthDataExtension: maps.Clone(o.AuthDataExtension),
	}
}

// parseAuthOptions decodes persisted options. Unparsable text is treated as absent.
func parseAuthOptions(raw string) (AuthOptions, bool) {
	if raw == "" {
		return AuthOptions{}, false
	}
	var opts AuthOptions
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return AuthOptions{}, false
	}
	return opts, true
}

// Snapshot is the best-known credential state across both tiers.
type Snapshot struct {
	Client   ClientToken
	User     UserToken
	Options  AuthOptions
	Remember bool
}
