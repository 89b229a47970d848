package handlers

import (
	"net/http"

	"earnhub/pkg/ledger"
	"earnhub/pkg/moderation"
	"earnhub/pkg/utils"
)

// Shared handler dependencies, set once at router construction.
var (
	guard *moderation.Guard
	led   *ledger.Ledger
	room  string
)

// Configure wires the handlers to their components.
func Configure(g *moderation.Guard, l *ledger.Ledger, chatRoom string) {
	guard = g
	led = l
	room = chatRoom
}

// requireOperator gates admin-surface handlers on the caller's resolved
// role. Returns false after writing the error response.
func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	role := r.Header.Get("X-Role-Name")
	if role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
