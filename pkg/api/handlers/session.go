package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"earnhub/pkg/config"
	"earnhub/pkg/logger"
	"earnhub/pkg/models"
	"earnhub/pkg/security"
	"earnhub/pkg/store"
	"earnhub/pkg/utils"
)

// RegisterSession registers account and identity endpoints.
func RegisterSession(r *mux.Router) {
	r.HandleFunc("/session/register", registerAccount).Methods(http.MethodPost)
	r.HandleFunc("/session/login", login).Methods(http.MethodPost)
	r.HandleFunc("/session/sign", signUser).Methods(http.MethodPost)

	r.HandleFunc("/profile/{id}", getProfile).Methods(http.MethodGet)
	r.HandleFunc("/profile/{id}", updateProfile).Methods(http.MethodPut)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type sessionResponse struct {
	User      models.User `json:"user"`
	Signature string      `json:"signature"`
}

// issueSignature signs the user id with the first configured signing key.
func issueSignature(userID string) (string, bool) {
	for k := range config.GetSigningKeys() {
		return security.SignUserID(k, userID), true
	}
	return "", false
}

func registerAccount(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := utils.DecodeJSON(r, &c); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	if c.Email == "" || !strings.Contains(c.Email, "@") {
		utils.JSONError(w, http.StatusBadRequest, "valid email required")
		return
	}
	if len(c.Password) < 6 {
		utils.JSONError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		utils.JSONError(w, http.StatusBadRequest, "name required")
		return
	}
	if _, err := store.GetUserByEmail(c.Email); err == nil {
		utils.JSONError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "hashing failed")
		return
	}
	u := models.User{
		ID:        utils.GenID(),
		Email:     c.Email,
		Name:      strings.TrimSpace(c.Name),
		Role:      models.RoleUser,
		PassHash:  string(hash),
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	if err := store.SaveUser(u); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("account_registered", "user", u.ID, "email", u.Email)

	sig, ok := issueSignature(u.ID)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, sessionResponse{User: u.Sanitized(), Signature: sig})
}

func login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := utils.DecodeJSON(r, &c); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := store.GetUserByEmail(strings.TrimSpace(strings.ToLower(c.Email)))
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PassHash), []byte(c.Password)) != nil {
		logger.Warn("login_failed", "email", c.Email, "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	logger.Info("login_ok", "user", u.ID)

	sig, ok := issueSignature(u.ID)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sessionResponse{User: u.Sanitized(), Signature: sig})
}

// signUser lets trusted backend callers mint a signature for an arbitrary
// user id, using the caller's own API key as the secret.
func signUser(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role-Name") != "backend" {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	auth := r.Header.Get("Authorization")
	var key string
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		key = auth[7:]
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing api key")
		return
	}
	// the signature secret must be a configured backend key, not just any
	// header the caller presents
	if _, ok := config.GetBackendKeys()[key]; !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unknown api key")
		return
	}
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "userId required")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{
		"userId":    payload.UserID,
		"signature": security.SignUserID(key, payload.UserID),
	})
}

func getProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	author, status, msg := security.ResolveAuthorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	role := r.Header.Get("X-Role-Name")
	if author != id && role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	u, err := store.GetUser(id)
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, u.Sanitized())
}

func updateProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	author, status, msg := security.ResolveAuthorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if author != id {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	var patch struct {
		Name           *string `json:"name"`
		Avatar         *string `json:"avatar"`
		PhoneNumber    *string `json:"phone_number"`
		TelegramHandle *string `json:"telegram_handle"`
	}
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// hold the user lock so the patch cannot clobber a concurrent debit
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
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		u.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	if patch.PhoneNumber != nil {
		u.PhoneNumber = *patch.PhoneNumber
	}
	if patch.TelegramHandle != nil {
		u.TelegramHandle = *patch.TelegramHandle
	}
	if err := store.SaveUser(u); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("profile_updated", "user", u.ID)
	_ = utils.JSONWrite(w, http.StatusOK, u.Sanitized())
}
