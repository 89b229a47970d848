// Package ledger originates and resolves monetary transactions against a
// user balance: time-boxed deposits, optimistically debited withdrawals and
// card redeems, and user-filed dispute tickets.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"earnhub/pkg/config"
	"earnhub/pkg/logger"
	"earnhub/pkg/models"
	"earnhub/pkg/notify"
	"earnhub/pkg/store"
	"earnhub/pkg/telemetry"
	"earnhub/pkg/utils"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrBelowMinimum        = errors.New("amount below withdrawal minimum")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingContact      = errors.New("contact required for card redeem")
	ErrMissingBankInfo     = errors.New("bank name, account number and account name required")
	ErrMissingEvidence     = errors.New("evidence image and message required")
	ErrNotFound            = errors.New("transaction not found")
	ErrNotOwner            = errors.New("transaction belongs to another user")
	ErrNotPending          = errors.New("transaction is not pending")
)

// Ledger applies wallet policy to transaction lifecycle operations.
type Ledger struct {
	minWithdraw    int64
	depositWindow  time.Duration
	depositMethod  string
	depositAccount string
	memoPrefix     string
	notifier       notify.Notifier

	// now is swappable for tests.
	now func() time.Time
}

// New builds a ledger from wallet policy config.
func New(cfg config.WalletConfig, n notify.Notifier) *Ledger {
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Ledger{
		minWithdraw:    cfg.MinWithdraw,
		depositWindow:  cfg.DepositWindow.Duration(),
		depositMethod:  cfg.DepositMethod,
		depositAccount: cfg.DepositAccount,
		memoPrefix:     cfg.MemoPrefix,
		notifier:       n,
		now:            time.Now,
	}
}

// Memo synthesizes the transfer note that binds a deposit to its user for
// manual reconciliation by an operator.
func (l *Ledger) Memo(userID string) string {
	id := userID
	if len(id) > 6 {
		id = id[:6]
	}
	return l.memoPrefix + " " + strings.ToUpper(id)
}

// CreateDeposit opens a time-boxed pending deposit. The balance is not
// touched here; it is credited only when an operator approves.
func (l *Ledger) CreateDeposit(user models.User, amount int64) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, ErrInvalidAmount
	}
	now := l.now()
	tx := models.Transaction{
		ID:        utils.GenTxID(),
		UserID:    user.ID,
		UserName:  user.Name,
		Kind:      models.KindDeposit,
		Amount:    amount,
		Method:    l.depositMethod,
		Details:   l.depositAccount,
		Memo:      l.Memo(user.ID),
		Status:    models.StatusPending,
		CreatedTS: now.UnixNano(),
		ExpiresTS: now.Add(l.depositWindow).UnixNano(),
	}
	if err := store.SaveTransaction(tx); err != nil {
		return models.Transaction{}, err
	}
	telemetry.TransactionsTotal.WithLabelValues(string(tx.Kind), string(tx.Status)).Inc()
	logger.AuditEvent("deposit_created", "tx", tx.ID, "user", user.ID, "amount", amount)
	l.notifier.Notify(user.ID, notify.SeverityInfo,
		fmt.Sprintf("Deposit %s created. Transfer %s with memo %q before the window closes.",
			tx.ID, humanize.Comma(amount), tx.Memo))
	return tx, nil
}

// CreateWithdrawal validates and opens a pending withdrawal or card redeem,
// debiting the amount from the user's balance immediately. The debit and
// the transaction insert commit in one batch; a later reject credits the
// amount back.
func (l *Ledger) CreateWithdrawal(user models.User, amount int64, kind models.TransactionKind, payout models.PayoutDetails) (models.Transaction, error) {
	if amount < l.minWithdraw {
		return models.Transaction{}, ErrBelowMinimum
	}

	// The caller's snapshot may be stale: two requests racing on the same
	// balance would both pass the check below. Re-read under the per-user
	// lock so only one debit of the same funds can commit.
	unlock := store.LockUser(user.ID)
	defer unlock()
	fresh, err := store.GetUser(user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.Transaction{}, fmt.Errorf("load user %s: %w", user.ID, err)
	}
	if err == nil {
		user = fresh
	}
	if amount > user.Balance {
		return models.Transaction{}, ErrInsufficientBalance
	}
	switch kind {
	case models.KindRedeemCard:
		if strings.TrimSpace(payout.Contact) == "" {
			return models.Transaction{}, ErrMissingContact
		}
	case models.KindWithdraw:
		if strings.TrimSpace(payout.BankName) == "" ||
			strings.TrimSpace(payout.AccountNumber) == "" ||
			strings.TrimSpace(payout.AccountName) == "" {
			return models.Transaction{}, ErrMissingBankInfo
		}
	default:
		return models.Transaction{}, fmt.Errorf("unsupported withdrawal kind %q", kind)
	}

	now := l.now()
	tx := models.Transaction{
		ID:        utils.GenTxID(),
		UserID:    user.ID,
		UserName:  user.Name,
		Kind:      kind,
		Amount:    amount,
		Status:    models.StatusPending,
		Contact:   payout.Contact,
		CreatedTS: now.UnixNano(),
	}
	if kind == models.KindWithdraw {
		tx.Method = payout.BankName
		tx.Details = payout.AccountNumber + " - " + payout.AccountName
	} else {
		tx.Method = "Gift card"
		tx.Details = "Contact: " + payout.Contact
	}

	user.Balance -= amount
	if err := store.SaveTransactionWithUser(tx, user); err != nil {
		return models.Transaction{}, err
	}
	telemetry.TransactionsTotal.WithLabelValues(string(kind), string(tx.Status)).Inc()
	logger.AuditEvent("withdrawal_created", "tx", tx.ID, "user", user.ID, "kind", string(kind), "amount", amount, "balance", user.Balance)
	l.notifier.Notify(user.ID, notify.SeveritySuccess,
		fmt.Sprintf("Request %s for %s submitted.", tx.ID, humanize.Comma(amount)))
	return tx, nil
}

// EffectiveStatus resolves lazy deposit expiry: a pending deposit past its
// window reads as EXPIRED without mutating the stored record.
func EffectiveStatus(tx models.Transaction, now time.Time) models.TransactionStatus {
	if tx.Kind == models.KindDeposit && tx.Status == models.StatusPending && now.UnixNano() >= tx.ExpiresTS {
		return models.StatusExpired
	}
	return tx.Status
}

// resolvable reports whether an operator may still act on the transaction.
func (l *Ledger) resolvable(tx models.Transaction) bool {
	s := EffectiveStatus(tx, l.now())
	return s == models.StatusPending || s == models.StatusReported
}

// loadTx loads a transaction, mapping a store miss to ErrNotFound.
func loadTx(txID string) (models.Transaction, error) {
	tx, err := store.GetTransaction(txID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Transaction{}, ErrNotFound
	}
	return tx, err
}

// Approve marks a transaction SUCCESS. Deposits credit the user's balance
// in the same batch as the status flip; withdrawals were already debited
// at creation so their balance is untouched.
func (l *Ledger) Approve(txID string) (models.Transaction, error) {
	tx, err := loadTx(txID)
	if err != nil {
		return models.Transaction{}, err
	}
	// reload under the lock; a concurrent resolve may have settled it
	defer store.LockUser(tx.UserID)()
	if tx, err = loadTx(txID); err != nil {
		return models.Transaction{}, err
	}
	if !l.resolvable(tx) {
		return models.Transaction{}, ErrNotPending
	}

	tx.Status = models.StatusSuccess
	var userRef *models.User
	if tx.Kind == models.KindDeposit {
		u, err := store.GetUser(tx.UserID)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("load user %s: %w", tx.UserID, err)
		}
		u.Balance += tx.Amount
		userRef = &u
	}
	if err := store.UpdateTransaction(tx, userRef); err != nil {
		return models.Transaction{}, err
	}
	telemetry.TransactionsTotal.WithLabelValues(string(tx.Kind), string(tx.Status)).Inc()
	logger.AuditEvent("transaction_approved", "tx", tx.ID, "user", tx.UserID, "kind", string(tx.Kind), "amount", tx.Amount)
	l.notifier.Notify(tx.UserID, notify.SeveritySuccess,
		fmt.Sprintf("Transaction %s approved.", tx.ID))
	return tx, nil
}

// Reject marks a transaction CANCELLED. For withdrawals and card redeems
// the optimistic debit is credited back atomically with the status change.
func (l *Ledger) Reject(txID string) (models.Transaction, error) {
	tx, err := loadTx(txID)
	if err != nil {
		return models.Transaction{}, err
	}
	// reload under the lock; a concurrent resolve may have settled it
	defer store.LockUser(tx.UserID)()
	if tx, err = loadTx(txID); err != nil {
		return models.Transaction{}, err
	}
	if !l.resolvable(tx) {
		return models.Transaction{}, ErrNotPending
	}

	tx.Status = models.StatusCancelled
	var userRef *models.User
	if tx.Kind != models.KindDeposit {
		u, err := store.GetUser(tx.UserID)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("load user %s: %w", tx.UserID, err)
		}
		u.Balance += tx.Amount
		userRef = &u
	}
	if err := store.UpdateTransaction(tx, userRef); err != nil {
		return models.Transaction{}, err
	}
	telemetry.TransactionsTotal.WithLabelValues(string(tx.Kind), string(tx.Status)).Inc()
	logger.AuditEvent("transaction_rejected", "tx", tx.ID, "user", tx.UserID, "kind", string(tx.Kind), "amount", tx.Amount)
	l.notifier.Notify(tx.UserID, notify.SeverityCancel,
		fmt.Sprintf("Transaction %s was cancelled.", tx.ID))
	return tx, nil
}

// Report flags a pending transaction for operator review.
func (l *Ledger) Report(txID string) (models.Transaction, error) {
	tx, err := loadTx(txID)
	if err != nil {
		return models.Transaction{}, err
	}
	defer store.LockUser(tx.UserID)()
	if tx, err = loadTx(txID); err != nil {
		return models.Transaction{}, err
	}
	if EffectiveStatus(tx, l.now()) != models.StatusPending {
		return models.Transaction{}, ErrNotPending
	}
	tx.Status = models.StatusReported
	if err := store.UpdateTransaction(tx, nil); err != nil {
		return models.Transaction{}, err
	}
	telemetry.TransactionsTotal.WithLabelValues(string(tx.Kind), string(tx.Status)).Inc()
	logger.AuditEvent("transaction_reported", "tx", tx.ID, "user", tx.UserID)
	return tx, nil
}

// FileDispute opens a support ticket against one of the user's own pending
// transactions. The transaction itself stays PENDING until an operator acts.
func (l *Ledger) FileDispute(user models.User, txID, evidenceImage, message string) (models.DisputeTicket, error) {
	if strings.TrimSpace(evidenceImage) == "" || strings.TrimSpace(message) == "" {
		return models.DisputeTicket{}, ErrMissingEvidence
	}
	tx, err := store.GetTransaction(txID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DisputeTicket{}, ErrNotFound
	}
	if err != nil {
		return models.DisputeTicket{}, err
	}
	if tx.UserID != user.ID {
		return models.DisputeTicket{}, ErrNotOwner
	}
	if EffectiveStatus(tx, l.now()) != models.StatusPending {
		return models.DisputeTicket{}, ErrNotPending
	}

	d := models.DisputeTicket{
		ID:            utils.GenTicketID(),
		UserID:        user.ID,
		UserName:      user.Name,
		TransactionID: tx.ID,
		Subject:       fmt.Sprintf("Dispute for %s", tx.ID),
		Message:       message,
		EvidenceImage: evidenceImage,
		Status:        models.DisputeOpen,
		CreatedTS:     l.now().UnixNano(),
	}
	if err := store.SaveDispute(d); err != nil {
		return models.DisputeTicket{}, err
	}
	telemetry.DisputesTotal.Inc()
	logger.AuditEvent("dispute_filed", "ticket", d.ID, "tx", tx.ID, "user", user.ID)
	l.notifier.Notify(user.ID, notify.SeverityInfo,
		fmt.Sprintf("Support ticket %s opened for %s.", d.ID, tx.ID))
	return d, nil
}

// ResolveDispute moves a ticket to RESOLVED or CLOSED.
func (l *Ledger) ResolveDispute(ticketID string, status models.DisputeStatus) (models.DisputeTicket, error) {
	if status != models.DisputeResolved && status != models.DisputeClosed {
		return models.DisputeTicket{}, fmt.Errorf("invalid dispute resolution %q", status)
	}
	d, err := store.GetDispute(ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DisputeTicket{}, ErrNotFound
	}
	if err != nil {
		return models.DisputeTicket{}, err
	}
	d.Status = status
	if err := store.UpdateDispute(d); err != nil {
		return models.DisputeTicket{}, err
	}
	logger.AuditEvent("dispute_resolved", "ticket", d.ID, "status", string(status))
	return d, nil
}

// ExpireDeposits flips stored status for pending deposits past their
// window. The lazy EffectiveStatus check keeps reads correct between
// sweeps; this just settles the stored record.
func (l *Ledger) ExpireDeposits() (int, error) {
	txs, err := store.ListTransactions("", 0)
	if err != nil {
		return 0, err
	}
	now := l.now()
	n := 0
	for _, tx := range txs {
		if tx.Kind != models.KindDeposit || tx.Status != models.StatusPending {
			continue
		}
		if EffectiveStatus(tx, now) != models.StatusExpired {
			continue
		}
		tx.Status = models.StatusExpired
		if err := store.UpdateTransaction(tx, nil); err != nil {
			logger.Error("deposit_expire_failed", "tx", tx.ID, "error", err)
			continue
		}
		telemetry.TransactionsTotal.WithLabelValues(string(tx.Kind), string(tx.Status)).Inc()
		logger.AuditEvent("deposit_expired", "tx", tx.ID, "user", tx.UserID)
		n++
	}
	return n, nil
}
