package ledger

import "context"

// Store is the persistence boundary of the ledger. Implementations must apply every
// outgoing delta as a conditional update (balance - frozen_balance >= amount) and
// commit a posting or transfer as one atomic unit.
type Store interface {
	// CreateWallet inserts the wallet unless the user already holds one in that
	// currency, and returns the stored wallet either way.
	CreateWallet(ctx context.Context, w Wallet) (Wallet, error)
	// WalletByUser returns the user's wallet in currency, or the oldest wallet when
	// currency is empty.
	WalletByUser(ctx context.Context, userID, currency string) (Wallet, error)
	// ApplyPosting stores the transaction and applies its delta. A replayed
	// idempotency key returns the original result with ErrDuplicateTransaction. A lost
	// conditional update marks the transaction failed and returns an
	// *InsufficientBalanceError.
	ApplyPosting(ctx context.Context, p Posting) (PostingResult, error)
	// ApplyTransfer stores both legs and moves the funds, or changes nothing.
	ApplyTransfer(ctx context.Context, p TransferPosting) (TransferApplied, error)
	// TransactionByIdempotencyKey returns ErrTransactionNotFound when the key is unused.
	TransactionByIdempotencyKey(ctx context.Context, userID, key string) (Transaction, error)
	TransactionsByReference(ctx context.Context, userID, reference string) ([]Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error)
	Stats(ctx context.Context, w Wallet) (Stats, error)
}
