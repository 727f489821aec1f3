package lifecycle

import (
	"context"

	"golang.org/x/oauth2"
)

// tokenSource adapts a Lifecycle to oauth2.TokenSource.
type tokenSource struct {
	ctx       context.Context
	lifecycle *Lifecycle
}

// Compile-time check to ensure tokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*tokenSource)(nil)

// TokenSource returns an oauth2.TokenSource backed by GetCurrentToken, for use with
// oauth2.NewClient or oauth2.Transport. oauth2.TokenSource.Token() has no context parameter,
// so ctx is captured here.
func (l *Lifecycle) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, lifecycle: l}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	return ts.lifecycle.CurrentOAuth2Token(ts.ctx)
}

// CurrentOAuth2Token resolves the current token like GetCurrentToken and describes it as an
// oauth2.Token, including the refresh token and expiry when it belongs to the user scope.
func (l *Lifecycle) CurrentOAuth2Token(ctx context.Context) (*oauth2.Token, error) {
	access, err := l.GetCurrentToken(ctx)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
	}

	snap := l.store.ReadAll(ctx)
	switch access {
	case snap.User.AccessToken:
		token.RefreshToken = snap.User.RefreshToken
		token.Expiry = snap.User.ExpiresAt
	case snap.Client.AccessToken:
		token.Expiry = snap.Client.ExpiresAt
	}
	return token, nil
}
