package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a balance-affecting event.
type Kind string

const (
	KindCredit   Kind = "credit"
	KindDebit    Kind = "debit"
	KindTransfer Kind = "transfer"
	KindPayment  Kind = "payment"
)

// Kinds lists the closed set of transaction kinds in display order.
var Kinds = []Kind{KindCredit, KindDebit, KindTransfer, KindPayment}

// Valid reports whether k belongs to the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindTransfer, KindPayment:
		return true
	}
	return false
}

// Outgoing reports whether the kind removes funds from the wallet.
func (k Kind) Outgoing() bool {
	return k != KindCredit
}

// Status is the lifecycle state of a transaction. Completed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	metadataDirection = "direction"
	directionOutgoing = "outgoing"
	directionIncoming = "incoming"
)

// Wallet holds one user's balance in one currency.
type Wallet struct {
	ID            string
	UserID        string
	Currency      string
	Balance       decimal.Decimal
	FrozenBalance decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available returns the balance eligible for outgoing operations.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.FrozenBalance)
}

// Transaction is an immutable record of one balance-affecting event.
type Transaction struct {
	ID             string
	WalletID       string
	UserID         string
	Kind           Kind
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Reference      string
	Status         Status
	Metadata       map[string]any
	IdempotencyKey string
	CreatedAt      time.Time
}

// outgoingTransferLeg reports whether t is the sender side of a TransferFunds call.
func (t Transaction) outgoingTransferLeg() bool {
	return t.Kind == KindTransfer && t.Metadata[metadataDirection] == directionOutgoing
}

// Delta is the signed change the transaction applies to its wallet.
func (t Transaction) Delta() decimal.Decimal {
	if t.Kind.Outgoing() {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Posting is a single accepted operation handed to the store.
type Posting struct {
	Transaction Transaction
}

// TransferPosting carries both legs of a transfer. The store applies them atomically.
type TransferPosting struct {
	Outgoing Transaction
	Incoming Transaction
}

// PostingResult is the committed outcome of a posting.
type PostingResult struct {
	Transaction Transaction
	Wallet      Wallet
}

// TransferResult is the committed outcome of a transfer.
type TransferResult struct {
	Reference       string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	RecipientName   string
	RecipientUserID string
	SenderBalance   decimal.Decimal
	SenderAvailable decimal.Decimal
	Outgoing        Transaction
	Incoming        Transaction
}

// KindTotal aggregates completed transactions of one kind.
type KindTotal struct {
	Kind  Kind
	Count int64
	Total decimal.Decimal
}

// Stats is the read-only aggregate view of a wallet.
type Stats struct {
	Wallet           Wallet
	TransactionCount int64
	ByKind           []KindTotal
	Recent           []Transaction
}

// TransactionFilter narrows a transaction listing. Zero values mean no filter.
type TransactionFilter struct {
	UserID   string
	Kind     Kind
	Currency string
	Page     int
	Limit    int
}

// Offset returns the row offset for the filter's page.
func (f TransactionFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// TransactionPage is one page of a listing, newest first.
type TransactionPage struct {
	Transactions []Transaction
	Total        int64
	Page         int
	Limit        int
}

// recentLimit bounds the recent transactions returned by stats.
const recentLimit = 5

// TransferApplied is what the store returns after committing both legs of a transfer.
type TransferApplied struct {
	Outgoing  Transaction
	Incoming  Transaction
	Sender    Wallet
	Recipient Wallet
}
