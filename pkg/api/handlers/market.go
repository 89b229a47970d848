package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"earnhub/pkg/logger"
	"earnhub/pkg/store"
	"earnhub/pkg/utils"
)

// RegisterMarket registers the marketplace and announcement endpoints.
func RegisterMarket(r *mux.Router) {
	r.HandleFunc("/market", listProducts).Methods(http.MethodGet)
	r.HandleFunc("/market/{id}/purchase", purchaseProduct).Methods(http.MethodPost)
	r.HandleFunc("/announcement", getAnnouncement).Methods(http.MethodGet)
}

func listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := store.ListProducts()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Products interface{} `json:"products"`
	}{Products: products})
}

func purchaseProduct(w http.ResponseWriter, r *http.Request) {
	user, ok := loadAuthor(w, r)
	if !ok {
		return
	}
	p, err := store.GetProduct(mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Off-platform goods are fulfilled through their external link; the
	// wallet balance is not touched.
	if p.ExternalURL != "" {
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			Balance int64  `json:"balance"`
			URL     string `json:"external_url"`
		}{Balance: user.Balance, URL: p.ExternalURL})
		return
	}
	// re-read the balance under the per-user lock so two purchases cannot
	// both spend the same funds
	defer store.LockUser(user.ID)()
	if fresh, err := store.GetUser(user.ID); err == nil {
		user = fresh
	}
	if p.Price > user.Balance {
		utils.JSONError(w, http.StatusBadRequest, "insufficient balance")
		return
	}
	user.Balance -= p.Price
	if err := store.SaveUser(user); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("product_purchased", "product", p.ID, "user", user.ID, "price", p.Price)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Balance int64  `json:"balance"`
		Contact string `json:"seller_contact,omitempty"`
	}{Balance: user.Balance, Contact: p.Seller})
}

func getAnnouncement(w http.ResponseWriter, r *http.Request) {
	text, err := store.GetAnnouncement()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"text": text})
}
