package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradefin/walletledger/internal/logging"
	"github.com/tradefin/walletledger/internal/notification"
)

const (
	maxDescriptionLength = 255
	maxReferenceLength   = 100
	maxIdempotencyKey    = 255
	amountScale          = 2

	defaultPageLimit = 20
	maxPageLimit     = 100
	maxPage          = math.MaxInt32 / maxPageLimit

	// Amounts and balances are stored as NUMERIC(20, 2).
	maxIntegerDigits   = 18
	maxFractionDigits  = 30
	maxCoefficientBits = 128
)

// MaxAmount is the largest amount or balance a wallet can hold.
var MaxAmount = decimal.New(1, maxIntegerDigits).Sub(decimal.New(1, -amountScale))

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Service applies credit, debit and transfer operations to wallets.
type Service struct {
	store           Store
	directory       RecipientDirectory
	notifier        notification.Notifier
	metrics         Metrics
	logger          *slog.Logger
	defaultCurrency string
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithDefaultCurrency sets the currency of wallets provisioned without one.
func WithDefaultCurrency(code string) Option {
	return func(s *Service) { s.defaultCurrency = code }
}

// NewService builds a ledger service. notifier may be nil.
func NewService(store Store, directory RecipientDirectory, notifier notification.Notifier, opts ...Option) *Service {
	s := &Service{
		store:           store,
		directory:       directory,
		notifier:        notifier,
		metrics:         NoopMetrics{},
		logger:          logging.Discard(),
		defaultCurrency: "USD",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordInput describes a single credit, debit, transfer or payment.
type RecordInput struct {
	UserID         string
	Kind           Kind
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Reference      string
	Metadata       map[string]any
	IdempotencyKey string
}

// ProvisionWallet creates the user's zero-balance wallet in currency, or returns the existing one.
func (s *Service) ProvisionWallet(ctx context.Context, userID, currency string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, invalid("user_id", "is required")
	}
	if currency == "" {
		currency = s.defaultCurrency
	}
	if err := validateCurrency(currency); err != nil {
		return Wallet{}, err
	}
	now := time.Now().UTC()
	w, err := s.store.CreateWallet(ctx, Wallet{
		ID:            uuid.NewString(),
		UserID:        userID,
		Currency:      currency,
		Balance:       decimal.Zero,
		FrozenBalance: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Wallet{}, unavailable("provision wallet", err)
	}
	return w, nil
}

// GetBalance returns the user's wallet. An empty currency selects the default wallet.
func (s *Service) GetBalance(ctx context.Context, userID, currency string) (Wallet, error) {
	start := time.Now()
	w, err := s.wallet(ctx, userID, currency)
	s.observe("get_balance", start, err)
	return w, err
}

// RecordTransaction applies one balance-affecting event to the user's wallet.
func (s *Service) RecordTransaction(ctx context.Context, in RecordInput) (PostingResult, error) {
	start := time.Now()
	res, err := s.recordTransaction(ctx, in)
	s.observe("record_transaction", start, err)
	if err == nil {
		s.metrics.AddVolume(res.Transaction.Kind, res.Transaction.Currency, res.Transaction.Amount)
		s.notifyPosting(ctx, res)
	}
	return res, err
}

func (s *Service) recordTransaction(ctx context.Context, in RecordInput) (PostingResult, error) {
	if err := validateRecord(in); err != nil {
		return PostingResult{}, err
	}

	if in.IdempotencyKey != "" {
		res, err := s.replayPosting(ctx, in.UserID, in.IdempotencyKey)
		if !errors.Is(err, ErrTransactionNotFound) {
			return res, err
		}
	}

	w, err := s.wallet(ctx, in.UserID, in.Currency)
	if err != nil {
		return PostingResult{}, err
	}
	if in.Kind.Outgoing() && w.Available().LessThan(in.Amount) {
		return PostingResult{}, insufficient(w, in.Amount)
	}
	if !in.Kind.Outgoing() && exceedsBalanceLimit(w, in.Amount) {
		return PostingResult{}, errBalanceLimit()
	}

	t := Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		UserID:         in.UserID,
		Kind:           in.Kind,
		Amount:         in.Amount,
		Currency:       w.Currency,
		Description:    strings.TrimSpace(in.Description),
		Reference:      in.Reference,
		Status:         StatusPending,
		Metadata:       copyMetadata(in.Metadata),
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if t.Reference == "" {
		t.Reference = t.ID
	}

	res, err := s.store.ApplyPosting(ctx, Posting{Transaction: t})
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrDuplicateTransaction):
		return duplicatePosting(res)
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrWalletNotFound):
		return res, err
	case IsValidation(err):
		return PostingResult{}, err
	default:
		return PostingResult{}, unavailable("record transaction", err)
	}
}

func (s *Service) replayPosting(ctx context.Context, userID, key string) (PostingResult, error) {
	existing, err := s.store.TransactionByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, ErrTransactionNotFound) {
		return PostingResult{}, err
	}
	if err != nil {
		return PostingResult{}, unavailable("lookup idempotency key", err)
	}
	w, err := s.wallet(ctx, userID, existing.Currency)
	if err != nil {
		return PostingResult{}, err
	}
	return duplicatePosting(PostingResult{Transaction: existing, Wallet: w})
}

// duplicatePosting reports a replayed key. A replay of a failed debit fails the same way,
// and a key that belongs to a transfer is refused.
func duplicatePosting(res PostingResult) (PostingResult, error) {
	if res.Transaction.outgoingTransferLeg() {
		return PostingResult{}, ErrIdempotencyKeyReused
	}
	if res.Transaction.Status == StatusFailed {
		return res, insufficient(res.Wallet, res.Transaction.Amount)
	}
	return res, ErrDuplicateTransaction
}

// GetStats aggregates the user's wallet activity. It never mutates state.
func (s *Service) GetStats(ctx context.Context, userID, currency string) (Stats, error) {
	start := time.Now()
	stats, err := s.getStats(ctx, userID, currency)
	s.observe("get_stats", start, err)
	return stats, err
}

func (s *Service) getStats(ctx context.Context, userID, currency string) (Stats, error) {
	w, err := s.wallet(ctx, userID, currency)
	if err != nil {
		return Stats{}, err
	}
	stats, err := s.store.Stats(ctx, w)
	if errors.Is(err, ErrWalletNotFound) {
		return Stats{}, err
	}
	if err != nil {
		return Stats{}, unavailable("wallet stats", err)
	}
	return stats, nil
}

// ListTransactions returns a page of the user's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	if filter.UserID == "" {
		return TransactionPage{}, invalid("user_id", "is required")
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return TransactionPage{}, invalid("type", fmt.Sprintf("unknown transaction type %q", filter.Kind))
	}
	if filter.Currency != "" {
		if err := validateCurrency(filter.Currency); err != nil {
			return TransactionPage{}, err
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Page > maxPage {
		return TransactionPage{}, invalid("page", fmt.Sprintf("must be at most %d", maxPage))
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	page, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return TransactionPage{}, unavailable("list transactions", err)
	}
	return page, nil
}

// TransactionsByReference returns every transaction sharing reference, for reconciliation
// after a timeout. The caller must own at least one of them.
func (s *Service) TransactionsByReference(ctx context.Context, userID, reference string) ([]Transaction, error) {
	if reference == "" {
		return nil, invalid("reference", "is required")
	}
	txs, err := s.store.TransactionsByReference(ctx, userID, reference)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable("lookup reference", err)
	}
	return txs, nil
}

func (s *Service) wallet(ctx context.Context, userID, currency string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, invalid("user_id", "is required")
	}
	if currency != "" {
		if err := validateCurrency(currency); err != nil {
			return Wallet{}, err
		}
	}
	w, err := s.store.WalletByUser(ctx, userID, currency)
	if errors.Is(err, ErrWalletNotFound) {
		return Wallet{}, err
	}
	if err != nil {
		return Wallet{}, unavailable("load wallet", err)
	}
	return w, nil
}

func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, outcome(err), time.Since(start))
	if err != nil && errors.Is(err, ErrStoreUnavailable) {
		s.logger.Error("ledger operation failed", slog.String("operation", op), slog.Any("error", err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "idempotency_conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrRecipientNotFound),
		errors.Is(err, ErrRecipientWalletNotFound), errors.Is(err, ErrTransactionNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification not dispatched",
			slog.String("user_id", msg.UserID), slog.String("title", msg.Title), slog.Any("error", err))
	}
}

func (s *Service) notifyPosting(ctx context.Context, res PostingResult) {
	t := res.Transaction
	verb := "debited"
	if !t.Kind.Outgoing() {
		verb = "credited"
	}
	s.notify(ctx, notification.Message{
		UserID: t.UserID,
		Kind:   notification.KindPayment,
		Title:  "Transaction completed",
		Body:   fmt.Sprintf("Your wallet was %s with %s %s", verb, t.Amount.StringFixed(amountScale), t.Currency),
		Metadata: map[string]any{
			"transaction_id": t.ID,
			"type":           string(t.Kind),
			"amount":         t.Amount.StringFixed(amountScale),
			"currency":       t.Currency,
			"balance":        res.Wallet.Balance.StringFixed(amountScale),
		},
	})
}

func validateRecord(in RecordInput) error {
	if in.UserID == "" {
		return invalid("user_id", "is required")
	}
	if !in.Kind.Valid() {
		return invalid("type", fmt.Sprintf("must be one of credit, debit, transfer, payment; got %q", in.Kind))
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
	if _, ok := in.Metadata[metadataDirection]; ok {
		return invalid("metadata", fmt.Sprintf("key %q is reserved", metadataDirection))
	}
	if len(in.Reference) > maxReferenceLength {
		return invalid("reference", fmt.Sprintf("must be at most %d characters", maxReferenceLength))
	}
	if len(in.IdempotencyKey) > maxIdempotencyKey {
		return invalid("idempotency_key", fmt.Sprintf("must be at most %d characters", maxIdempotencyKey))
	}
	return nil
}

// validateAmount checks exponent and coefficient size before rounding.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	exp := int(amount.Exponent())
	if exp < -maxFractionDigits {
		return invalid("amount", fmt.Sprintf("must have at most %d decimal places", amountScale))
	}
	if exp > maxIntegerDigits || amount.Coefficient().BitLen() > maxCoefficientBits ||
		amount.NumDigits()+exp > maxIntegerDigits {
		return invalid("amount", fmt.Sprintf("must be at most %s", MaxAmount.StringFixed(amountScale)))
	}
	if !amount.Equal(amount.Round(amountScale)) {
		return invalid("amount", fmt.Sprintf("must have at most %d decimal places", amountScale))
	}
	if amount.GreaterThan(MaxAmount) {
		return invalid("amount", fmt.Sprintf("must be at most %s", MaxAmount.StringFixed(amountScale)))
	}
	return nil
}

func validateCurrency(code string) error {
	if !currencyPattern.MatchString(code) {
		return invalid("currency", fmt.Sprintf("must be a three-letter ISO code; got %q", code))
	}
	return nil
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
