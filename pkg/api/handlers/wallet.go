package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"earnhub/pkg/ledger"
	"earnhub/pkg/models"
	"earnhub/pkg/security"
	"earnhub/pkg/store"
	"earnhub/pkg/utils"
)

// RegisterWallet registers the user-facing transaction endpoints.
func RegisterWallet(r *mux.Router) {
	r.HandleFunc("/wallet/transactions", listOwnTransactions).Methods(http.MethodGet)
	r.HandleFunc("/wallet/deposits", createDeposit).Methods(http.MethodPost)
	r.HandleFunc("/wallet/withdrawals", createWithdrawal).Methods(http.MethodPost)
	r.HandleFunc("/wallet/disputes", fileDispute).Methods(http.MethodPost)
}

// txView is a transaction with its lazily resolved status.
type txView struct {
	models.Transaction
	EffectiveStatus models.TransactionStatus `json:"effective_status"`
}

func viewOf(tx models.Transaction, now time.Time) txView {
	return txView{Transaction: tx, EffectiveStatus: ledger.EffectiveStatus(tx, now)}
}

func listOwnTransactions(w http.ResponseWriter, r *http.Request) {
	author, status, msg := security.ResolveAuthorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	txs, err := store.ListTransactions(author, 0)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := time.Now()
	out := make([]txView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, viewOf(tx, now))
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Transactions []txView `json:"transactions"`
	}{Transactions: out})
}

func loadAuthor(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	author, status, msg := security.ResolveAuthorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return models.User{}, false
	}
	u, err := store.GetUser(author)
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "unknown user")
		return models.User{}, false
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return models.User{}, false
	}
	return u, true
}

func createDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := loadAuthor(w, r)
	if !ok {
		return
	}
	var p struct {
		Amount int64 `json:"amount"`
	}
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	tx, err := led.CreateDeposit(user, p.Amount)
	if errors.Is(err, ledger.ErrInvalidAmount) {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, viewOf(tx, time.Now()))
}

func createWithdrawal(w http.ResponseWriter, r *http.Request) {
	user, ok := loadAuthor(w, r)
	if !ok {
		return
	}
	var p struct {
		Amount int64                `json:"amount"`
		Kind   string               `json:"kind"`
		Payout models.PayoutDetails `json:"payout"`
	}
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	kind := models.TransactionKind(p.Kind)
	if kind == "" {
		kind = models.KindWithdraw
	}
	tx, err := led.CreateWithdrawal(user, p.Amount, kind, p.Payout)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrBelowMinimum),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrMissingContact),
		errors.Is(err, ledger.ErrMissingBankInfo):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, viewOf(tx, time.Now()))
}

func fileDispute(w http.ResponseWriter, r *http.Request) {
	user, ok := loadAuthor(w, r)
	if !ok {
		return
	}
	var p struct {
		TransactionID string `json:"transaction_id"`
		EvidenceImage string `json:"evidence_image"`
		Message       string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := led.FileDispute(user, p.TransactionID, p.EvidenceImage, p.Message)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrMissingEvidence):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ledger.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ledger.ErrNotOwner):
		utils.JSONError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, ledger.ErrNotPending):
		utils.JSONError(w, http.StatusConflict, err.Error())
		return
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, d)
}
