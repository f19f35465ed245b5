// Package portalauth manages the credential lifecycle of the VejaPRO portals
// on the client side and performs authenticated calls to the backend.
//
// [SessionStore] owns either a static bearer token or a refreshable
// identity-provider session for the active [Portal]. [Gateway] sends one
// request at a time: it refreshes first, attaches the bearer header, bounds
// the call with a timeout and maps every failure onto a [RequestError].
//
// # Architecture boundaries
//
// portalauth is the public surface. It exposes [Client], [Builder], [Config]
// and value types. Flow orchestration, the identity-provider client and
// error-detail parsing live under internal/. Persistence is pluggable through
// [session.Backend].
//
// # What this package must NOT do
//
//   - Log response bodies or tokens.
//   - Retry a request on its own. The only recovery it performs is the
//     refresh before a request and the forced sign-in after an unrecoverable
//     refresh.
//   - Import any sub-package that re-imports portalauth.
package portalauth
