package ledger

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"earnhub/pkg/config"
	"earnhub/pkg/models"
	"earnhub/pkg/notify"
	"earnhub/pkg/store"
)

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func testLedger(now time.Time) *Ledger {
	l := New(config.WalletConfig{
		MinWithdraw:    5000,
		DepositWindow:  config.Duration(10 * time.Minute),
		DepositMethod:  "MB Bank",
		DepositAccount: "97042292345678",
		MemoPrefix:     "EARN",
	}, notify.Nop{})
	l.now = func() time.Time { return now }
	return l
}

func seedUser(t *testing.T, balance int64) models.User {
	t.Helper()
	u := models.User{ID: "u1abcdef", Name: "Alice", Role: models.RoleUser, Balance: balance}
	if err := store.SaveUser(u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func mustUser(t *testing.T, id string) models.User {
	t.Helper()
	u, err := store.GetUser(id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u
}

func TestCreateDepositRoundTrip(t *testing.T) {
	openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLedger(now)
	u := seedUser(t, 0)

	tx, err := l.CreateDeposit(u, 100000)
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	got, err := store.GetTransaction(tx.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}
	if got.ExpiresTS != got.CreatedTS+int64(600*time.Second) {
		t.Fatalf("expiry = created + %ds, want 600s", (got.ExpiresTS-got.CreatedTS)/int64(time.Second))
	}
	if got.Memo != "EARN U1ABCD" {
		t.Fatalf("memo = %q", got.Memo)
	}
	if mustUser(t, u.ID).Balance != 0 {
		t.Fatalf("deposit must not credit at creation")
	}
}

func TestCreateDepositRejectsNonPositiveAmount(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	if _, err := l.CreateDeposit(seedUser(t, 0), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestWithdrawalValidationOrder(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 10000)

	// below minimum wins regardless of balance
	if _, err := l.CreateWithdrawal(u, 4999, models.KindWithdraw, models.PayoutDetails{}); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if _, err := l.CreateWithdrawal(u, 20000, models.KindWithdraw, models.PayoutDetails{}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := l.CreateWithdrawal(u, 5000, models.KindRedeemCard, models.PayoutDetails{}); !errors.Is(err, ErrMissingContact) {
		t.Fatalf("err = %v, want ErrMissingContact", err)
	}
	if _, err := l.CreateWithdrawal(u, 5000, models.KindWithdraw, models.PayoutDetails{BankName: "MB"}); !errors.Is(err, ErrMissingBankInfo) {
		t.Fatalf("err = %v, want ErrMissingBankInfo", err)
	}

	// nothing committed by the failed attempts
	if mustUser(t, u.ID).Balance != 10000 {
		t.Fatalf("balance mutated by failed validation")
	}
	txs, err := store.ListTransactions(u.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("transactions created by failed validation: %d", len(txs))
	}
}

func TestWithdrawalDebitsExactlyToZero(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 5000)

	tx, err := l.CreateWithdrawal(u, 5000, models.KindWithdraw, models.PayoutDetails{
		BankName: "MB Bank", AccountNumber: "111", AccountName: "ALICE",
	})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if tx.Status != models.StatusPending || tx.ExpiresTS != 0 {
		t.Fatalf("unexpected tx: %+v", tx)
	}
	if got := mustUser(t, u.ID).Balance; got != 0 {
		t.Fatalf("balance = %d, want 0 after optimistic debit", got)
	}
}

func TestConcurrentWithdrawalsDebitOnce(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 5000)

	// every goroutine starts from the same stale snapshot; exactly one
	// debit of the shared funds may commit
	var wg sync.WaitGroup
	var accepted int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CreateWithdrawal(u, 5000, models.KindRedeemCard, models.PayoutDetails{Contact: "+84 000"})
			switch {
			case err == nil:
				atomic.AddInt64(&accepted, 1)
			case errors.Is(err, ErrInsufficientBalance):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted = %d withdrawals, want 1", accepted)
	}
	if got := mustUser(t, u.ID).Balance; got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	txs, err := store.ListTransactions(u.ID, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("stored %d transactions, want 1", len(txs))
	}
}

func TestRejectCreditsBack(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 10000)

	tx, err := l.CreateWithdrawal(u, 5000, models.KindRedeemCard, models.PayoutDetails{Contact: "+84 000"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := mustUser(t, u.ID).Balance; got != 5000 {
		t.Fatalf("balance after debit = %d, want 5000", got)
	}

	if _, err := l.Reject(tx.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := mustUser(t, u.ID).Balance; got != 10000 {
		t.Fatalf("balance after reject = %d, want pre-debit 10000", got)
	}
	got, _ := store.GetTransaction(tx.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}

	// terminal: a second resolution must fail
	if _, err := l.Approve(tx.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("approve after reject err = %v, want ErrNotPending", err)
	}
}

func TestApproveLeavesDebitInPlace(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 10000)

	tx, err := l.CreateWithdrawal(u, 6000, models.KindWithdraw, models.PayoutDetails{
		BankName: "MB Bank", AccountNumber: "111", AccountName: "ALICE",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Approve(tx.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := mustUser(t, u.ID).Balance; got != 4000 {
		t.Fatalf("balance = %d, want post-debit 4000", got)
	}
}

func TestApproveDepositCredits(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 1000)

	tx, err := l.CreateDeposit(u, 50000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Approve(tx.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := mustUser(t, u.ID).Balance; got != 51000 {
		t.Fatalf("balance = %d, want 51000", got)
	}
	if _, err := l.Reject(tx.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("reject after approve err = %v, want ErrNotPending", err)
	}
}

func TestDepositLazyExpiry(t *testing.T) {
	openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLedger(now)
	u := seedUser(t, 0)

	tx, err := l.CreateDeposit(u, 20000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if s := EffectiveStatus(tx, now.Add(599*time.Second)); s != models.StatusPending {
		t.Fatalf("status before window = %s, want PENDING", s)
	}
	if s := EffectiveStatus(tx, now.Add(600*time.Second)); s != models.StatusExpired {
		t.Fatalf("status at deadline = %s, want EXPIRED", s)
	}

	// operator cannot approve past the window
	l.now = func() time.Time { return now.Add(11 * time.Minute) }
	if _, err := l.Approve(tx.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("approve expired err = %v, want ErrNotPending", err)
	}
}

func TestExpireDepositsSweep(t *testing.T) {
	openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLedger(now)
	u := seedUser(t, 10000)

	old, err := l.CreateDeposit(u, 20000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	l.now = func() time.Time { return now.Add(5 * time.Minute) }
	fresh, err := l.CreateDeposit(u, 30000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pendingW, err := l.CreateWithdrawal(u, 5000, models.KindRedeemCard, models.PayoutDetails{Contact: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	l.now = func() time.Time { return now.Add(12 * time.Minute) }
	n, err := l.ExpireDeposits()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if got, _ := store.GetTransaction(old.ID); got.Status != models.StatusExpired {
		t.Fatalf("old deposit status = %s, want EXPIRED", got.Status)
	}
	if got, _ := store.GetTransaction(fresh.ID); got.Status != models.StatusPending {
		t.Fatalf("fresh deposit status = %s, want PENDING", got.Status)
	}
	if got, _ := store.GetTransaction(pendingW.ID); got.Status != models.StatusPending {
		t.Fatalf("withdrawal touched by sweep: %s", got.Status)
	}
}

func TestFileDispute(t *testing.T) {
	openStore(t)
	l := testLedger(time.Now())
	u := seedUser(t, 10000)
	other := models.User{ID: "u2", Name: "Bob", Balance: 0}
	if err := store.SaveUser(other); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, err := l.CreateWithdrawal(u, 5000, models.KindRedeemCard, models.PayoutDetails{Contact: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := l.FileDispute(u, tx.ID, "", "it is stuck"); !errors.Is(err, ErrMissingEvidence) {
		t.Fatalf("err = %v, want ErrMissingEvidence", err)
	}
	if _, err := l.FileDispute(u, "TXNOPE", "data:image/png;base64,xx", "stuck"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := l.FileDispute(other, tx.ID, "data:image/png;base64,xx", "stuck"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}

	d, err := l.FileDispute(u, tx.ID, "data:image/png;base64,xx", "stuck for an hour")
	if err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	if d.Status != models.DisputeOpen || d.TransactionID != tx.ID {
		t.Fatalf("unexpected ticket: %+v", d)
	}
	// filing leaves the transaction pending
	if got, _ := store.GetTransaction(tx.ID); got.Status != models.StatusPending {
		t.Fatalf("tx status = %s, want PENDING", got.Status)
	}

	if _, err := l.Reject(tx.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := l.FileDispute(u, tx.ID, "data:image/png;base64,xx", "again"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("err = %v, want ErrNotPending", err)
	}

	if _, err := l.ResolveDispute(d.ID, models.DisputeResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, _ := store.GetDispute(d.ID)
	if got.Status != models.DisputeResolved {
		t.Fatalf("ticket status = %s, want RESOLVED", got.Status)
	}
}
