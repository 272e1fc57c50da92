package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradefin/walletledger/internal/notification"
)

// Recipient is the resolved counterparty of a transfer.
type Recipient struct {
	UserID      string
	Email       string
	DisplayName string
}

// RecipientDirectory resolves active users by email. It returns ErrRecipientNotFound
// when no active user matches.
type RecipientDirectory interface {
	FindActiveByEmail(ctx context.Context, email string) (Recipient, error)
}

// TransferInput describes a wallet-to-wallet transfer initiated by SenderID.
type TransferInput struct {
	SenderID       string
	RecipientEmail string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// TransferFunds moves Amount from the sender's wallet to the recipient's wallet in the
// same currency. Both legs share one correlation reference and commit together.
func (s *Service) TransferFunds(ctx context.Context, in TransferInput) (TransferResult, error) {
	start := time.Now()
	res, err := s.transferFunds(ctx, in)
	s.observe("transfer_funds", start, err)
	if err == nil {
		s.metrics.AddVolume(KindTransfer, res.Currency, res.Amount)
		s.notifyTransfer(ctx, res)
	}
	return res, err
}

func (s *Service) transferFunds(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := validateTransfer(in); err != nil {
		return TransferResult{}, err
	}

	if in.IdempotencyKey != "" {
		res, err := s.replayTransfer(ctx, in.SenderID, in.IdempotencyKey)
		if !errors.Is(err, ErrTransactionNotFound) {
			return res, err
		}
	}

	sender, err := s.wallet(ctx, in.SenderID, in.Currency)
	if err != nil {
		return TransferResult{}, err
	}
	if sender.Available().LessThan(in.Amount) {
		return TransferResult{}, insufficient(sender, in.Amount)
	}

	if s.directory == nil {
		return TransferResult{}, ErrRecipientNotFound
	}
	recipient, err := s.directory.FindActiveByEmail(ctx, normalizeEmail(in.RecipientEmail))
	if errors.Is(err, ErrRecipientNotFound) {
		return TransferResult{}, err
	}
	if err != nil {
		return TransferResult{}, unavailable("resolve recipient", err)
	}
	if recipient.UserID == in.SenderID {
		return TransferResult{}, invalid("recipient_email", "cannot transfer to your own wallet")
	}

	recipientWallet, err := s.store.WalletByUser(ctx, recipient.UserID, sender.Currency)
	if errors.Is(err, ErrWalletNotFound) {
		return TransferResult{}, ErrRecipientWalletNotFound
	}
	if err != nil {
		return TransferResult{}, unavailable("load recipient wallet", err)
	}
	if exceedsBalanceLimit(recipientWallet, in.Amount) {
		return TransferResult{}, errBalanceLimit()
	}

	reference := uuid.NewString()
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = fmt.Sprintf("Transfer to %s", recipient.DisplayName)
	}
	now := time.Now().UTC()

	posting := TransferPosting{
		Outgoing: Transaction{
			ID:          uuid.NewString(),
			WalletID:    sender.ID,
			UserID:      in.SenderID,
			Kind:        KindTransfer,
			Amount:      in.Amount,
			Currency:    sender.Currency,
			Description: description,
			Reference:   reference,
			Status:      StatusPending,
			Metadata: map[string]any{
				metadataDirection: directionOutgoing,
				"recipient_id":    recipient.UserID,
				"recipient_email": recipient.Email,
				"recipient_name":  recipient.DisplayName,
			},
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
		},
		Incoming: Transaction{
			ID:          uuid.NewString(),
			WalletID:    recipientWallet.ID,
			UserID:      recipient.UserID,
			Kind:        KindCredit,
			Amount:      in.Amount,
			Currency:    sender.Currency,
			Description: description,
			Reference:   reference,
			Status:      StatusPending,
			Metadata: map[string]any{
				metadataDirection: directionIncoming,
				"sender_id":       in.SenderID,
			},
			CreatedAt: now,
		},
	}

	applied, err := s.store.ApplyTransfer(ctx, posting)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateTransaction):
		if !applied.Outgoing.outgoingTransferLeg() {
			return TransferResult{}, ErrIdempotencyKeyReused
		}
		return transferResult(applied, recipient.DisplayName), err
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrRecipientWalletNotFound), IsValidation(err):
		return TransferResult{}, err
	default:
		return TransferResult{}, unavailable("apply transfer", err)
	}

	return transferResult(applied, recipient.DisplayName), nil
}

func (s *Service) replayTransfer(ctx context.Context, senderID, key string) (TransferResult, error) {
	existing, err := s.store.TransactionByIdempotencyKey(ctx, senderID, key)
	if errors.Is(err, ErrTransactionNotFound) {
		return TransferResult{}, err
	}
	if err != nil {
		return TransferResult{}, unavailable("lookup idempotency key", err)
	}
	if !existing.outgoingTransferLeg() {
		return TransferResult{}, ErrIdempotencyKeyReused
	}
	legs, err := s.store.TransactionsByReference(ctx, senderID, existing.Reference)
	if err != nil {
		return TransferResult{}, unavailable("lookup transfer legs", err)
	}
	sender, err := s.wallet(ctx, senderID, existing.Currency)
	if err != nil {
		return TransferResult{}, err
	}

	applied := TransferApplied{Outgoing: existing, Sender: sender}
	for _, leg := range legs {
		if leg.ID != existing.ID && leg.Metadata[metadataDirection] == directionIncoming {
			applied.Incoming = leg
		}
	}
	name, _ := existing.Metadata["recipient_name"].(string)
	return transferResult(applied, name), ErrDuplicateTransaction
}

func transferResult(a TransferApplied, recipientName string) TransferResult {
	return TransferResult{
		Reference:       a.Outgoing.Reference,
		Amount:          a.Outgoing.Amount,
		Currency:        a.Outgoing.Currency,
		Description:     a.Outgoing.Description,
		RecipientName:   recipientName,
		RecipientUserID: a.Incoming.UserID,
		SenderBalance:   a.Sender.Balance,
		SenderAvailable: a.Sender.Available(),
		Outgoing:        a.Outgoing,
		Incoming:        a.Incoming,
	}
}

func (s *Service) notifyTransfer(ctx context.Context, res TransferResult) {
	amount := res.Amount.StringFixed(amountScale)
	meta := map[string]any{
		"reference": res.Reference,
		"amount":    amount,
		"currency":  res.Currency,
	}
	s.notify(ctx, notification.Message{
		UserID:   res.Outgoing.UserID,
		Kind:     notification.KindPayment,
		Title:    "Transfer sent",
		Body:     fmt.Sprintf("You sent %s %s to %s", amount, res.Currency, res.RecipientName),
		Metadata: withEntry(meta, "transaction_id", res.Outgoing.ID),
	})
	s.notify(ctx, notification.Message{
		UserID:   res.Incoming.UserID,
		Kind:     notification.KindPayment,
		Title:    "Transfer received",
		Body:     fmt.Sprintf("You received %s %s", amount, res.Currency),
		Metadata: withEntry(meta, "transaction_id", res.Incoming.ID),
	})
}

func withEntry(base map[string]any, key string, value any) map[string]any {
	out := copyMetadata(base)
	out[key] = value
	return out
}

func validateTransfer(in TransferInput) error {
	if in.SenderID == "" {
		return invalid("user_id", "is required")
	}
	addr, err := mail.ParseAddress(in.RecipientEmail)
	if err != nil || addr.Address != strings.TrimSpace(in.RecipientEmail) {
		return invalid("recipient_email", "must be a valid email address")
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if in.Currency != "" {
		if err := validateCurrency(in.Currency); err != nil {
			return err
		}
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return invalid("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	if len(in.IdempotencyKey) > maxIdempotencyKey {
		return invalid("idempotency_key", fmt.Sprintf("must be at most %d characters", maxIdempotencyKey))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
