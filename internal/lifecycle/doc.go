// Package lifecycle owns the connector's credential state machine.
//
// Two credential scopes coexist: a client token (client-credentials grant, no refresh) and a
// user token pair (access + refresh). Lifecycle decides, per call, whether a cached token can be
// used, whether the user token must be refreshed, or whether the caller has to fall back to the
// client scope.
//
// # Validation
//
// AuthValidation moves the lifecycle from Idle to Validating and, once the underlying check
// settles, to Resolved. Calls arriving while a validation is pending share its result instead of
// starting another one, so a burst of concurrent requests triggers at most one refresh. The same
// in-flight sharing applies to RefreshUserToken and to client token acquisition.
//
// Shared operations run detached from the first caller's cancellation: a caller whose context is
// cancelled stops waiting, but the operation completes for everyone else. Time limits belong to
// the transport.
//
// # Failure policy
//
// A failed refresh leaves the authenticated flag and the persisted tokens untouched; the caller
// receiving the error decides whether to log the user out. Logout always clears local state,
// whether or not the server call succeeds.
package lifecycle
