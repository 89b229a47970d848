package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"earnhub/pkg/config"
	"earnhub/pkg/ledger"
	"earnhub/pkg/models"
	"earnhub/pkg/moderation"
	"earnhub/pkg/notify"
	"earnhub/pkg/security"
	"earnhub/pkg/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{"bk-test": {}},
		SigningKeys: map[string]struct{}{"signing-secret": {}},
	})

	guard := moderation.NewGuard([]string{"hack", "scam"}, "community", notify.Nop{})
	led := ledger.New(config.WalletConfig{
		MinWithdraw:    5000,
		DepositWindow:  config.Duration(10 * time.Minute),
		DepositMethod:  "MB Bank",
		DepositAccount: "97042292345678",
		MemoPrefix:     "EARN",
	}, notify.Nop{})

	srv := httptest.NewServer(security.RequireSignedAuthor(Handler(Deps{Guard: guard, Ledger: led, Room: "community"})))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body interface{}, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role-Name", "backend")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	out := new(bytes.Buffer)
	_, _ = out.ReadFrom(resp.Body)
	resp.Body.Close()
	return resp, out.Bytes()
}

func registerUser(t *testing.T, srv *httptest.Server, email string) models.User {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/v1/session/register", map[string]string{
		"email": email, "password": "hunter22", "name": "Alice",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", resp.StatusCode, body)
	}
	var sess struct {
		User      models.User `json:"user"`
		Signature string      `json:"signature"`
	}
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Signature != security.SignUserID("signing-secret", sess.User.ID) {
		t.Fatalf("signature not issued from configured signing key")
	}
	return sess.User
}

func TestSessionRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)
	u := registerUser(t, srv, "alice@example.com")
	if u.PassHash != "" {
		t.Fatalf("password hash leaked in response")
	}

	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/session/register", map[string]string{
		"email": "alice@example.com", "password": "hunter22", "name": "Alice",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: %d, want 409", resp.StatusCode)
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/session/login", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: %d, want 401", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodPost, "/v1/session/login", map[string]string{
		"email": "Alice@Example.com", "password": "hunter22",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", resp.StatusCode, body)
	}
}

func TestSessionSignRequiresConfiguredKey(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/session/sign",
		map[string]string{"userId": "u1"}, map[string]string{"X-API-Key": "not-a-key"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key: %d, want 401", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodPost, "/v1/session/sign",
		map[string]string{"userId": "u1"}, map[string]string{"X-API-Key": "bk-test"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign: %d %s", resp.StatusCode, body)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["signature"] != security.SignUserID("bk-test", "u1") {
		t.Fatalf("signature not minted from the caller's key")
	}
}

func TestChatModerationOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	u := registerUser(t, srv, "alice@example.com")
	asUser := map[string]string{"X-User-ID": u.ID}

	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/chat/messages", map[string]string{"text": "hello"}, asUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("clean message: %d", resp.StatusCode)
	}

	// two violations: warning, then 10-minute mute
	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/chat/messages", map[string]string{"text": "free hack here"}, asUser)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("first violation: %d, want 422", resp.StatusCode)
	}
	resp, body := doJSON(t, srv, http.MethodPost, "/v1/chat/messages", map[string]string{"text": "hack again"}, asUser)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("second violation: %d, want 422", resp.StatusCode)
	}
	var blocked struct {
		Reason   string          `json:"reason"`
		Sanction models.Sanction `json:"sanction"`
	}
	if err := json.Unmarshal(body, &blocked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if blocked.Reason != "Second violation: 10-minute mute" || !blocked.Sanction.Active {
		t.Fatalf("unexpected verdict: %+v", blocked)
	}

	// muted: even clean messages are refused
	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/chat/messages", map[string]string{"text": "sorry"}, asUser)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("muted user message: %d, want 403", resp.StatusCode)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/v1/chat/sanction", nil, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sanction: %d", resp.StatusCode)
	}
	var st struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(body, &st); err != nil || !st.Active {
		t.Fatalf("sanction status: %s err=%v", body, err)
	}

	// stream carries the user's message plus two guard log lines
	resp, body = doJSON(t, srv, http.MethodGet, "/v1/chat/messages", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	var stream struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &stream); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stream.Messages) != 3 {
		t.Fatalf("stream length = %d, want 3", len(stream.Messages))
	}
	if stream.Messages[1].AuthorID != moderation.BotAuthorID {
		t.Fatalf("expected guard log line, got %+v", stream.Messages[1])
	}
}

func TestWalletLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	u := registerUser(t, srv, "alice@example.com")
	asUser := map[string]string{"X-User-ID": u.ID}

	// fund via admin balance set
	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/admin/users/"+u.ID+"/balance", map[string]int64{"balance": 10000}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set balance: %d", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodPost, "/v1/wallet/withdrawals", map[string]interface{}{
		"amount": 6000,
		"kind":   "WITHDRAW",
		"payout": map[string]string{"bank_name": "MB Bank", "account_number": "111", "account_name": "ALICE"},
	}, asUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("withdrawal: %d %s", resp.StatusCode, body)
	}
	var tx models.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// reject credits the debit back
	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/admin/transactions/"+tx.ID+"/reject", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject: %d", resp.StatusCode)
	}
	resp, body = doJSON(t, srv, http.MethodGet, "/v1/profile/"+u.ID, nil, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile: %d", resp.StatusCode)
	}
	var prof models.User
	if err := json.Unmarshal(body, &prof); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if prof.Balance != 10000 {
		t.Fatalf("balance after reject = %d, want 10000", prof.Balance)
	}

	// deposit then dispute it
	resp, body = doJSON(t, srv, http.MethodPost, "/v1/wallet/deposits", map[string]int64{"amount": 50000}, asUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit: %d %s", resp.StatusCode, body)
	}
	var dep models.Transaction
	if err := json.Unmarshal(body, &dep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/wallet/disputes", map[string]string{
		"transaction_id": dep.ID,
		"evidence_image": "data:image/png;base64,xx",
		"message":        "transferred but still pending",
	}, asUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("dispute: %d", resp.StatusCode)
	}

	// operator queues
	resp, body = doJSON(t, srv, http.MethodGet, "/v1/admin/disputes", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disputes: %d", resp.StatusCode)
	}
	var dq struct {
		Disputes []models.DisputeTicket `json:"disputes"`
	}
	if err := json.Unmarshal(body, &dq); err != nil || len(dq.Disputes) != 1 {
		t.Fatalf("dispute queue: %s err=%v", body, err)
	}

	// frontend role cannot reach the admin surface
	resp, _ = doJSON(t, srv, http.MethodGet, "/v1/admin/users", nil, map[string]string{"X-Role-Name": "frontend"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin as frontend: %d, want 403", resp.StatusCode)
	}
}

func TestSignedAuthorFlow(t *testing.T) {
	srv := newTestServer(t)
	u := registerUser(t, srv, "alice@example.com")
	sig := security.SignUserID("signing-secret", u.ID)

	hdr := map[string]string{"X-Role-Name": "frontend", "X-User-ID": u.ID, "X-User-Signature": sig}
	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/chat/messages", map[string]string{"text": "hello"}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signed message: %d", resp.StatusCode)
	}

	bad := map[string]string{"X-Role-Name": "frontend", "X-User-ID": u.ID, "X-User-Signature": "deadbeef"}
	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/chat/messages", map[string]string{"text": "hello"}, bad)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged signature: %d, want 401", resp.StatusCode)
	}
}
