package server

// Route path constants
// All bridge routes are defined here to ensure consistency and prevent typos
const (
	// Session routes
	RouteAPILogin  = "/api/login"
	RouteAPILogout = "/api/logout"
	RouteAPIStatus = "/api/status"

	// Browsing events
	RouteAPINavigation = "/api/navigation"
	RouteAPITabs       = "/api/tabs"

	// Diagnostics
	RouteAPITag  = "/api/tag"
	RouteHealthz = "/healthz"
)
