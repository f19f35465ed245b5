// Package flows contains the orchestration steps behind SessionStore
// operations: refresh, sign-in and logout.
//
// Each Run function takes a typed dependency struct and returns a result
// value. Flows hold no state between calls and never import portalauth;
// the root package owns the lock, the backend and the single-flight group.
package flows
