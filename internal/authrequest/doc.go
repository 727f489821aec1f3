// Package authrequest talks to the IAM credential endpoints.
//
// Every call follows the same shape: a claim set is assembled from the client configuration
// (iss = client id, aud = audience, scope = scopes for the purpose), overlaid with the default
// auth data and the call-specific data, signed into an assertion, and POSTed as {"jwt": assertion}.
//
// # Endpoints
//
// The endpoint table maps operation names to paths relative to the base URL:
//
//	loginClient   client-credentials grant
//	login         user login (basic_auth.username / basic_auth.password claims)
//	refreshToken  user refresh (refresh_token claim)
//	logout        user sign-out (Authorization header carries the access token)
//
// # Custom Transport
//
// Configure a custom transport for credential requests (e.g., for proxies or custom timeouts):
//
//	client, err := authrequest.New(cfg,
//		authrequest.WithTransport(transport.NewHTTPTransport(transport.WithTimeout(10*time.Second))),
//	)
package authrequest
