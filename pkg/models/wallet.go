package models

type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdraw   TransactionKind = "WITHDRAW"
	KindRedeemCard TransactionKind = "REDEEM_CARD"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusSuccess   TransactionStatus = "SUCCESS"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusReported  TransactionStatus = "REPORTED"
	StatusExpired   TransactionStatus = "EXPIRED"
)

// Transaction moves from PENDING to exactly one terminal state (SUCCESS,
// CANCELLED, EXPIRED) or to REPORTED, which an operator later resolves.
type Transaction struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id"`
	UserName string            `json:"user_name,omitempty"`
	Kind     TransactionKind   `json:"kind"`
	Amount   int64             `json:"amount"`
	// Method names the payment rail (deposit bank, payout bank, card).
	Method string `json:"method,omitempty"`
	// Details holds counterparty coordinates: the deposit account, the
	// payout account, or the card-delivery contact.
	Details string `json:"details,omitempty"`
	// Memo binds a deposit to its user for manual reconciliation.
	Memo      string            `json:"memo,omitempty"`
	Contact   string            `json:"contact,omitempty"`
	Status    TransactionStatus `json:"status"`
	CreatedTS int64             `json:"created_ts"`
	// ExpiresTS is set for deposits only (ns).
	ExpiresTS int64 `json:"expires_ts,omitempty"`
}

// PayoutDetails carries the destination for a withdrawal or card redeem.
type PayoutDetails struct {
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	Contact       string `json:"contact,omitempty"`
}

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "OPEN"
	DisputeResolved DisputeStatus = "RESOLVED"
	DisputeClosed   DisputeStatus = "CLOSED"
)

// DisputeTicket is filed by a user against one of their pending transactions.
type DisputeTicket struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name,omitempty"`
	TransactionID string `json:"transaction_id"`
	Subject       string `json:"subject,omitempty"`
	Message       string `json:"message"`
	// EvidenceImage is a data URL; stored opaque.
	EvidenceImage string        `json:"evidence_image,omitempty"`
	Status        DisputeStatus `json:"status"`
	CreatedTS     int64         `json:"created_ts"`
}
