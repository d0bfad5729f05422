// Package server exposes the session API over HTTP and the live update
// stream over websockets.
package server

import (
	"net/http"
)

// Handler assembles the full HTTP surface: the JSON session API and the
// websocket stream endpoint.
func Handler(sessions SessionRegistry, hub *Hub, reports ReportStore) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, sessions, reports)

	return mux
}
