package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthHandler())

	// Sessions
	s.RegisterRouteHandler("POST "+RouteAPILogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPILogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(s.RequireBridgeToken())...))
	s.RegisterRouteHandler("GET "+RouteAPIStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware(s.RequireBridgeToken())...))

	// Browsing events arrive while logged out too, so login can replay them
	s.RegisterRouteHandler("POST "+RouteAPINavigation, ChainMiddleware(s.NavigationHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPITabs, ChainMiddleware(s.TabsHandler(), s.APIMiddleware()...))

	// Preflight for the routes above
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))

	if s.env == "DEV" && s.tagger != nil {
		// Exposes tagging values, so only to a logged-in bridge
		s.RegisterRouteHandler("GET "+RouteAPITag, ChainMiddleware(s.TagPreviewHandler(), s.APIMiddleware(s.RequireBridgeToken())...))
	}
}
