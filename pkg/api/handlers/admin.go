package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"earnhub/pkg/ledger"
	"earnhub/pkg/logger"
	"earnhub/pkg/models"
	"earnhub/pkg/store"
	"earnhub/pkg/utils"
)

// RegisterAdmin registers the operator surface. Every handler here is
// gated on a backend or admin API key.
func RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/admin/users", adminListUsers).Methods(http.MethodGet)
	r.HandleFunc("/admin/stats", adminStats).Methods(http.MethodGet)
	r.HandleFunc("/admin/users/{id}/balance", adminSetBalance).Methods(http.MethodPost)

	r.HandleFunc("/admin/transactions", adminListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/admin/transactions/{id}/approve", adminApprove).Methods(http.MethodPost)
	r.HandleFunc("/admin/transactions/{id}/reject", adminReject).Methods(http.MethodPost)
	r.HandleFunc("/admin/transactions/{id}/report", adminReport).Methods(http.MethodPost)

	r.HandleFunc("/admin/disputes", adminListDisputes).Methods(http.MethodGet)
	r.HandleFunc("/admin/disputes/{id}/resolve", adminResolveDispute).Methods(http.MethodPost)

	r.HandleFunc("/admin/announcement", adminSetAnnouncement).Methods(http.MethodPost)

	r.HandleFunc("/admin/tasks", adminCreateTask).Methods(http.MethodPost)
	r.HandleFunc("/admin/tasks/{id}", adminDeleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/admin/market", adminCreateProduct).Methods(http.MethodPost)
	r.HandleFunc("/admin/market/{id}", adminDeleteProduct).Methods(http.MethodDelete)
}

func adminListUsers(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	users, err := store.ListUsers()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Sanitized())
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Users []models.User `json:"users"`
	}{Users: out})
}

func adminStats(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	users, err := store.ListUsers()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	txs, err := store.ListTransactions("", 0)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var totalBalance int64
	for _, u := range users {
		totalBalance += u.Balance
	}
	now := time.Now()
	var pending int
	byStatus := map[models.TransactionStatus]int{}
	for _, tx := range txs {
		s := ledger.EffectiveStatus(tx, now)
		byStatus[s]++
		if s == models.StatusPending {
			pending++
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Users        int                              `json:"users"`
		TotalBalance int64                            `json:"total_balance"`
		Transactions int                              `json:"transactions"`
		Pending      int                              `json:"pending"`
		ByStatus     map[models.TransactionStatus]int `json:"by_status"`
	}{
		Users:        len(users),
		TotalBalance: totalBalance,
		Transactions: len(txs),
		Pending:      pending,
		ByStatus:     byStatus,
	})
}

func adminSetBalance(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var p struct {
		Balance int64 `json:"balance"`
	}
	if err := utils.DecodeJSON(r, &p); err != nil || p.Balance < 0 {
		utils.JSONError(w, http.StatusBadRequest, "non-negative balance required")
		return
	}
	id := mux.Vars(r)["id"]
	defer store.LockUser(id)()
	u, err := store.GetUser(id)
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	old := u.Balance
	u.Balance = p.Balance
	if err := store.SaveUser(u); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("balance_adjusted", "user", u.ID, "from", old, "to", u.Balance)
	_ = utils.JSONWrite(w, http.StatusOK, u.Sanitized())
}

func adminListTransactions(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	txs, err := store.ListTransactions(r.URL.Query().Get("user"), 0)
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

func resolveTx(w http.ResponseWriter, r *http.Request, fn func(string) (models.Transaction, error)) {
	tx, err := fn(mux.Vars(r)["id"])
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ledger.ErrNotPending):
		utils.JSONError(w, http.StatusConflict, err.Error())
		return
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, viewOf(tx, time.Now()))
}

func adminApprove(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	resolveTx(w, r, led.Approve)
}

func adminReject(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	resolveTx(w, r, led.Reject)
}

func adminReport(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	resolveTx(w, r, led.Report)
}

func adminListDisputes(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	disputes, err := store.ListDisputes()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Disputes []models.DisputeTicket `json:"disputes"`
	}{Disputes: disputes})
}

func adminResolveDispute(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var p struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := led.ResolveDispute(mux.Vars(r)["id"], models.DisputeStatus(p.Status))
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
		return
	default:
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, d)
}

func adminSetAnnouncement(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var p struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := store.SetAnnouncement(p.Text); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("announcement_updated", "length", len(p.Text))
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"text": p.Text})
}

func adminCreateTask(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var t models.Task
	if err := utils.DecodeJSON(r, &t); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(t.Title) == "" || t.Reward <= 0 {
		utils.JSONError(w, http.StatusBadRequest, "title and positive reward required")
		return
	}
	if t.ID == "" {
		t.ID = utils.GenID()
	}
	t.Done = 0
	t.CreatedTS = time.Now().UTC().UnixNano()
	if err := store.SaveTask(t); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("task_created", "task", t.ID, "reward", t.Reward)
	_ = utils.JSONWrite(w, http.StatusCreated, t)
}

func adminDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := store.GetTask(id); errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "task not found")
		return
	}
	if err := store.DeleteTask(id); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("task_deleted", "task", id)
	w.WriteHeader(http.StatusNoContent)
}

func adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var p models.Product
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(p.Title) == "" || p.Price < 0 {
		utils.JSONError(w, http.StatusBadRequest, "title and non-negative price required")
		return
	}
	if p.ID == "" {
		p.ID = utils.GenID()
	}
	if p.Type == "" {
		p.Type = models.ProductGoods
	}
	p.CreatedTS = time.Now().UTC().UnixNano()
	if err := store.SaveProduct(p); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("product_created", "product", p.ID, "price", p.Price)
	_ = utils.JSONWrite(w, http.StatusCreated, p)
}

func adminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := store.GetProduct(id); errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "product not found")
		return
	}
	if err := store.DeleteProduct(id); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("product_deleted", "product", id)
	w.WriteHeader(http.StatusNoContent)
}
