package flows

// Deps groups flow dependency sets. The root package builds this once per
// Client and passes the matching set to each flow.
type Deps struct {
	Refresh RefreshDeps
	SignIn  SignInDeps
	Logout  LogoutDeps
}
