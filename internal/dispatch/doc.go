// Package dispatch sends authenticated API requests.
//
// Every request carries the current access token as a bearer credential. When a request fails
// with 401 while a user session is established, the user token is refreshed and the request is
// sent exactly once more. Client-scoped sessions have no refresh path and are never retried.
package dispatch
