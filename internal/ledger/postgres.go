package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// errConditionFailed signals that a conditional debit matched no row.
var errConditionFailed = errors.New("conditional update matched no rows")

const (
	walletColumns      = `id, user_id, currency, balance, frozen_balance, created_at, updated_at`
	transactionColumns = `id, wallet_id, user_id, type, amount, currency, description, reference, status, metadata, COALESCE(idempotency_key, ''), created_at`
	uniqueViolation    = "23505"
	numericOverflow    = "22003"
)

// PostgresStore persists wallets and transactions in PostgreSQL. Every posting runs in
// one database transaction and debits through a conditional UPDATE.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWallet inserts the wallet and ignores a conflict on (user_id, currency).
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) (Wallet, error) {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, user_id, currency, balance, frozen_balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (user_id, currency) DO NOTHING`,
		w.ID, w.UserID, w.Currency, w.Balance, w.FrozenBalance, w.CreatedAt.UTC())
	if err != nil {
		return Wallet{}, err
	}
	return s.WalletByUser(ctx, w.UserID, w.Currency)
}

// WalletByUser fetches the user's wallet in currency, or the oldest one if currency is empty.
func (s *PostgresStore) WalletByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	var row pgx.Row
	if currency == "" {
		row = s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets
            WHERE user_id = $1 ORDER BY created_at ASC LIMIT 1`, userID)
	} else {
		row = s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets
            WHERE user_id = $1 AND currency = $2`, userID, currency)
	}
	return scanWallet(row)
}

// ApplyPosting inserts the transaction as pending, applies its delta and completes it.
func (s *PostgresStore) ApplyPosting(ctx context.Context, p Posting) (PostingResult, error) {
	t := p.Transaction

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PostingResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if t.IdempotencyKey != "" {
		existing, err := transactionByKey(ctx, tx, t.UserID, t.IdempotencyKey)
		if err == nil {
			w, werr := walletByID(ctx, tx, existing.WalletID)
			if werr != nil {
				return PostingResult{}, werr
			}
			return PostingResult{Transaction: existing, Wallet: w}, ErrDuplicateTransaction
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return PostingResult{}, err
		}
	}

	t.Status = StatusPending
	if err := insertTransaction(ctx, tx, t); err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return s.replayPosting(ctx, t)
		}
		return PostingResult{}, err
	}

	w, err := applyDelta(ctx, tx, t.WalletID, t.Delta())
	if errors.Is(err, errConditionFailed) {
		current, werr := walletByID(ctx, tx, t.WalletID)
		if werr != nil {
			return PostingResult{}, werr
		}
		if err := setStatus(ctx, tx, StatusFailed, t.ID); err != nil {
			return PostingResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return PostingResult{}, err
		}
		t.Status = StatusFailed
		return PostingResult{Transaction: t, Wallet: current}, insufficient(current, t.Amount)
	}
	if isNumericOverflow(err) {
		return PostingResult{}, errBalanceLimit()
	}
	if err != nil {
		return PostingResult{}, err
	}

	if err := setStatus(ctx, tx, StatusCompleted, t.ID); err != nil {
		return PostingResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PostingResult{}, err
	}

	t.Status = StatusCompleted
	return PostingResult{Transaction: t, Wallet: w}, nil
}

func (s *PostgresStore) replayPosting(ctx context.Context, t Transaction) (PostingResult, error) {
	existing, err := transactionByKey(ctx, s.db, t.UserID, t.IdempotencyKey)
	if err != nil {
		return PostingResult{}, err
	}
	w, err := walletByID(ctx, s.db, existing.WalletID)
	if err != nil {
		return PostingResult{}, err
	}
	return PostingResult{Transaction: existing, Wallet: w}, ErrDuplicateTransaction
}

// ApplyTransfer commits both legs and both balance updates in one database transaction.
// Wallet rows are updated in id order so two opposite transfers cannot deadlock.
func (s *PostgresStore) ApplyTransfer(ctx context.Context, p TransferPosting) (TransferApplied, error) {
	out, in := p.Outgoing, p.Incoming

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferApplied{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if out.IdempotencyKey != "" {
		existing, err := transactionByKey(ctx, tx, out.UserID, out.IdempotencyKey)
		if err == nil {
			return replayTransfer(ctx, tx, existing)
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return TransferApplied{}, err
		}
	}

	out.Status = StatusPending
	in.Status = StatusPending
	if err := insertTransaction(ctx, tx, out); err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			existing, kerr := transactionByKey(ctx, s.db, out.UserID, out.IdempotencyKey)
			if kerr != nil {
				return TransferApplied{}, kerr
			}
			return replayTransfer(ctx, s.db, existing)
		}
		return TransferApplied{}, err
	}
	if err := insertTransaction(ctx, tx, in); err != nil {
		return TransferApplied{}, err
	}

	var sender, recipient Wallet
	apply := func(walletID string) error {
		if walletID == out.WalletID {
			w, err := applyDelta(ctx, tx, out.WalletID, out.Delta())
			if errors.Is(err, errConditionFailed) {
				current, werr := walletByID(ctx, tx, out.WalletID)
				if werr != nil {
					return werr
				}
				return insufficient(current, out.Amount)
			}
			sender = w
			return err
		}
		w, err := applyDelta(ctx, tx, in.WalletID, in.Delta())
		if errors.Is(err, ErrWalletNotFound) {
			return ErrRecipientWalletNotFound
		}
		if isNumericOverflow(err) {
			return errBalanceLimit()
		}
		recipient = w
		return err
	}

	first, second := out.WalletID, in.WalletID
	if second < first {
		first, second = second, first
	}
	if err := apply(first); err != nil {
		return TransferApplied{}, err
	}
	if err := apply(second); err != nil {
		return TransferApplied{}, err
	}

	if err := setStatus(ctx, tx, StatusCompleted, out.ID); err != nil {
		return TransferApplied{}, err
	}
	if err := setStatus(ctx, tx, StatusCompleted, in.ID); err != nil {
		return TransferApplied{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return TransferApplied{}, err
	}

	out.Status = StatusCompleted
	in.Status = StatusCompleted
	return TransferApplied{Outgoing: out, Incoming: in, Sender: sender, Recipient: recipient}, nil
}

// TransactionByIdempotencyKey looks up the transaction a caller token was first used for.
func (s *PostgresStore) TransactionByIdempotencyKey(ctx context.Context, userID, key string) (Transaction, error) {
	return transactionByKey(ctx, s.db, userID, key)
}

// TransactionsByReference returns every leg sharing reference when one of them belongs to userID.
func (s *PostgresStore) TransactionsByReference(ctx context.Context, userID, reference string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE reference = $1
          AND EXISTS (SELECT 1 FROM transactions o WHERE o.reference = $1 AND o.user_id = $2)
        ORDER BY created_at ASC`, reference, userID)
	if err != nil {
		return nil, err
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, ErrTransactionNotFound
	}
	return txs, nil
}

// ListTransactions returns one page of the user's transactions, newest first.
func (s *PostgresStore) ListTransactions(ctx context.Context, f TransactionFilter) (TransactionPage, error) {
	conds := []string{"user_id = $1"}
	args := []any{f.UserID}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Currency != "" {
		args = append(args, f.Currency)
		conds = append(conds, fmt.Sprintf("currency = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	page := TransactionPage{Page: f.Page, Limit: f.Limit}
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&page.Total); err != nil {
		return TransactionPage{}, err
	}

	args = append(args, f.Limit, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return TransactionPage{}, err
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return TransactionPage{}, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	page.Transactions = txs
	return page, nil
}

// Stats aggregates the wallet's transactions without mutating anything.
func (s *PostgresStore) Stats(ctx context.Context, w Wallet) (Stats, error) {
	current, err := walletByID(ctx, s.db, w.ID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Wallet: current}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE wallet_id = $1`, w.ID).Scan(&stats.TransactionCount); err != nil {
		return Stats{}, err
	}

	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*), COALESCE(SUM(amount), 0)
        FROM transactions WHERE wallet_id = $1 AND status = $2
        GROUP BY type`, w.ID, StatusCompleted)
	if err != nil {
		return Stats{}, err
	}
	totals := make(map[Kind]KindTotal)
	for rows.Next() {
		var (
			kt   KindTotal
			kind string
		)
		if err := rows.Scan(&kind, &kt.Count, &kt.Total); err != nil {
			rows.Close()
			return Stats{}, err
		}
		kt.Kind = Kind(kind)
		totals[kt.Kind] = kt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	for _, k := range Kinds {
		if kt, ok := totals[k]; ok {
			stats.ByKind = append(stats.ByKind, kt)
		}
	}

	recent, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, w.ID, recentLimit)
	if err != nil {
		return Stats{}, err
	}
	if stats.Recent, err = collectTransactions(recent); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func applyDelta(ctx context.Context, q querier, walletID string, delta decimal.Decimal) (Wallet, error) {
	var row pgx.Row
	if delta.IsNegative() {
		amount := delta.Neg()
		row = q.QueryRow(ctx, `UPDATE wallets SET balance = balance - $1, updated_at = NOW()
            WHERE id = $2 AND balance - frozen_balance >= $1
            RETURNING `+walletColumns, amount, walletID)
		w, err := scanWallet(row)
		if errors.Is(err, ErrWalletNotFound) {
			return Wallet{}, errConditionFailed
		}
		return w, err
	}
	row = q.QueryRow(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW()
        WHERE id = $2
        RETURNING `+walletColumns, delta, walletID)
	return scanWallet(row)
}

func insertTransaction(ctx context.Context, q querier, t Transaction) error {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	var key any
	if t.IdempotencyKey != "" {
		key = t.IdempotencyKey
	}
	_, err := q.Exec(ctx, `INSERT INTO transactions
        (id, wallet_id, user_id, type, amount, currency, description, reference, status, metadata, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.WalletID, t.UserID, string(t.Kind), t.Amount, t.Currency, t.Description, t.Reference,
		string(t.Status), metadata, key, t.CreatedAt.UTC())
	return err
}

func setStatus(ctx context.Context, q querier, status Status, id string) error {
	_, err := q.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		string(status), id, string(StatusPending))
	return err
}

func walletByID(ctx context.Context, q querier, id string) (Wallet, error) {
	return scanWallet(q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func transactionByKey(ctx context.Context, q querier, userID, key string) (Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func replayTransfer(ctx context.Context, q querier, out Transaction) (TransferApplied, error) {
	res := TransferApplied{Outgoing: out}
	sender, err := walletByID(ctx, q, out.WalletID)
	if err != nil {
		return TransferApplied{}, err
	}
	res.Sender = sender

	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE reference = $1 AND id <> $2 AND metadata->>'direction' = $3`, out.Reference, out.ID, directionIncoming)
	in, err := scanTransaction(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return TransferApplied{}, err
	}
	if err == nil {
		res.Incoming = in
		if res.Recipient, err = walletByID(ctx, q, in.WalletID); err != nil {
			return TransferApplied{}, err
		}
	}
	return res, ErrDuplicateTransaction
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.FrozenBalance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		kind   string
		status string
	)
	if err := row.Scan(&t.ID, &t.WalletID, &t.UserID, &kind, &t.Amount, &t.Currency, &t.Description,
		&t.Reference, &status, &t.Metadata, &t.IdempotencyKey, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == numericOverflow
}
