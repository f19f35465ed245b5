// Package middleware holds the server-side half of the portal contract:
// HTTP middleware that verifies portal bearer tokens and assigns request
// ids.
//
// [Guard] verifies the Authorization header with a [Verifier], enforces an
// optional role and injects the claims into the request context.
// [RequireAdmin] hides admin routes from other roles behind 404, matching
// how the client reports obscured 403 responses. [RequestID] keeps or
// assigns X-Request-ID.
//
// Errors are written as {"detail": "..."} bodies so portalauth clients can
// surface them.
package middleware
