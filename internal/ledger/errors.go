package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrWalletNotFound indicates the user has no wallet for the requested currency.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrRecipientNotFound indicates no active user matches the recipient email.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrRecipientWalletNotFound indicates the recipient has no wallet in the transfer currency.
	ErrRecipientWalletNotFound = errors.New("recipient wallet not found")

	// ErrTransactionNotFound is returned by reference lookups with no match.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientBalance is matched by every *InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateTransaction indicates the idempotency key was already used. The
	// accompanying result is the original one.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrIdempotencyKeyReused indicates the key was first used for a different kind of
	// operation. Nothing is changed.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different operation")

	// ErrStoreUnavailable wraps persistence failures that abort an operation.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError reports malformed input. Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientBalanceError carries the available balance at the time of the check.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
	Currency  string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s %s, requested %s",
		e.Available.StringFixed(2), e.Currency, e.Requested.StringFixed(2))
}

// Is lets errors.Is(err, ErrInsufficientBalance) match.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func insufficient(w Wallet, requested decimal.Decimal) error {
	return &InsufficientBalanceError{Available: w.Available(), Requested: requested, Currency: w.Currency}
}

func errBalanceLimit() error {
	return invalid("amount", "would exceed the maximum wallet balance")
}

func exceedsBalanceLimit(w Wallet, credit decimal.Decimal) bool {
	return w.Balance.Add(credit).GreaterThan(MaxAmount)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
