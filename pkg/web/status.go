// Package web serves the node status API, the desktop equivalent of the
// device's small status web server.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/antirez/freakwan/pkg/wan"
)

// StatusProvider is the read-only view of the node the API exposes.
type StatusProvider interface {
	Status() wan.NodeStatus
	Neighbors() []wan.NeighborStatus
}

// NewRouter builds the API router.
func NewRouter(node StatusProvider) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, node.Status())
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/neighbors", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, node.Neighbors())
	}).Methods(http.MethodGet)
	return handlers.RecoveryHandler()(r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding API response", "error", err)
	}
}
