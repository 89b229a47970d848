// Package api exposes the platform's HTTP surface under /v1.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"earnhub/pkg/api/handlers"
	"earnhub/pkg/ledger"
	"earnhub/pkg/moderation"
)

// Deps carries the wired components the handlers operate on.
type Deps struct {
	Guard  *moderation.Guard
	Ledger *ledger.Ledger
	Room   string
}

// Handler builds the /v1 router. Gateway authentication and signature
// verification are applied by the caller's middleware chain.
func Handler(d Deps) http.Handler {
	handlers.Configure(d.Guard, d.Ledger, d.Room)

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterSession(v1)
	handlers.RegisterChat(v1)
	handlers.RegisterWallet(v1)
	handlers.RegisterTasks(v1)
	handlers.RegisterMarket(v1)
	handlers.RegisterAdmin(v1)
	return r
}
