package store

import (
	"fmt"
	"testing"
	"time"

	"earnhub/pkg/models"
)

func openTemp(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	openTemp(t)
	base := time.Now().UTC().UnixNano()
	for i := 0; i < 5; i++ {
		msg := models.ChatMessage{
			ID:       fmt.Sprintf("m%d", i),
			Room:     "community",
			AuthorID: "u1",
			Kind:     models.KindText,
			Origin:   models.OriginUser,
			Text:     fmt.Sprintf("hello %d", i),
			TS:       base + int64(i),
		}
		if err := SaveMessage(msg); err != nil {
			t.Fatalf("save #%d: %v", i, err)
		}
	}
	msgs, err := ListMessages("community")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("len = %d, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != fmt.Sprintf("m%d", i) {
			t.Fatalf("order broken at %d: %s", i, m.ID)
		}
	}
	// rooms are isolated
	other, err := ListMessages("support")
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("room leak: %d messages", len(other))
	}
}

func TestUserEmailIndex(t *testing.T) {
	openTemp(t)
	u := models.User{ID: "u1", Email: "Alice@Example.com", Name: "Alice"}
	if err := SaveUser(u); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("id = %s", got.ID)
	}
	if _, err := GetUserByEmail("nobody@example.com"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransactionsListNewestFirst(t *testing.T) {
	openTemp(t)
	base := time.Now().UTC().UnixNano()
	for i := 0; i < 3; i++ {
		tx := models.Transaction{
			ID:        fmt.Sprintf("TX%d", i),
			UserID:    "u1",
			Kind:      models.KindDeposit,
			Amount:    1000,
			Status:    models.StatusPending,
			CreatedTS: base + int64(i)*int64(time.Second),
		}
		if err := SaveTransaction(tx); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	txs, err := ListTransactions("", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("len = %d, want 3", len(txs))
	}
	for i, tx := range txs {
		if want := fmt.Sprintf("TX%d", 2-i); tx.ID != want {
			t.Fatalf("position %d = %s, want %s", i, tx.ID, want)
		}
	}
	limited, err := ListTransactions("u1", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "TX2" {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestUpdateTransactionWithUserIsAtomicPair(t *testing.T) {
	openTemp(t)
	if err := SaveUser(models.User{ID: "u1", Balance: 500}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	tx := models.Transaction{ID: "TXA", UserID: "u1", Kind: models.KindWithdraw, Amount: 500, Status: models.StatusPending, CreatedTS: time.Now().UnixNano()}
	if err := SaveTransaction(tx); err != nil {
		t.Fatalf("save tx: %v", err)
	}

	tx.Status = models.StatusCancelled
	u := models.User{ID: "u1", Balance: 1000}
	if err := UpdateTransaction(tx, &u); err != nil {
		t.Fatalf("update: %v", err)
	}
	gotTx, err := GetTransaction("TXA")
	if err != nil {
		t.Fatalf("get tx: %v", err)
	}
	gotU, err := GetUser("u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if gotTx.Status != models.StatusCancelled || gotU.Balance != 1000 {
		t.Fatalf("pair not applied: tx=%s balance=%d", gotTx.Status, gotU.Balance)
	}
}

func TestAnnouncementDefaultsEmpty(t *testing.T) {
	openTemp(t)
	s, err := GetAnnouncement()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s != "" {
		t.Fatalf("announcement = %q, want empty", s)
	}
	if err := SetAnnouncement("maintenance at 23:00"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s, err = GetAnnouncement()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s != "maintenance at 23:00" {
		t.Fatalf("announcement = %q", s)
	}
}

func TestModerationSanctionSnapshotStaysInSync(t *testing.T) {
	openTemp(t)
	rec := models.ModerationRecord{
		UserID:       "u1",
		WarningCount: 2,
		Sanction:     models.Sanction{Active: true, ExpiresTS: time.Now().Add(time.Minute).UnixNano(), Reason: "Second violation: 10-minute mute"},
	}
	if err := SaveModeration(rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	var snap models.Sanction
	if err := GetJSON(SanctionKey("u1"), &snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap != rec.Sanction {
		t.Fatalf("snapshot diverged: %+v vs %+v", snap, rec.Sanction)
	}
}
