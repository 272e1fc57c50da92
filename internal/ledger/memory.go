package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-memory Store used in development and tests.
// A single mutex serialises every mutation, so the conditional debit behaves exactly
// like the Postgres statement.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	userWallets  map[string][]string
	transactions []Transaction
	keys         map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:     make(map[string]Wallet),
		userWallets: make(map[string][]string),
		keys:        make(map[string]int),
	}
}

func idempotencyIndexKey(userID, key string) string {
	return userID + "\x00" + key
}

func (s *MemoryStore) CreateWallet(_ context.Context, w Wallet) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.userWallets[w.UserID] {
		if existing := s.wallets[id]; existing.Currency == w.Currency {
			return existing, nil
		}
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.wallets[w.ID] = w
	s.userWallets[w.UserID] = append(s.userWallets[w.UserID], w.ID)
	return w, nil
}

func (s *MemoryStore) TransactionByIdempotencyKey(_ context.Context, userID, key string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.keys[idempotencyIndexKey(userID, key)]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.transactions[idx], nil
}

func (s *MemoryStore) WalletByUser(_ context.Context, userID, currency string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walletByUserLocked(userID, currency)
}

func (s *MemoryStore) walletByUserLocked(userID, currency string) (Wallet, error) {
	for _, id := range s.userWallets[userID] {
		w := s.wallets[id]
		if currency == "" || w.Currency == currency {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (s *MemoryStore) ApplyPosting(_ context.Context, p Posting) (PostingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := p.Transaction
	if t.IdempotencyKey != "" {
		if idx, ok := s.keys[idempotencyIndexKey(t.UserID, t.IdempotencyKey)]; ok {
			existing := s.transactions[idx]
			return PostingResult{Transaction: existing, Wallet: s.wallets[existing.WalletID]}, ErrDuplicateTransaction
		}
	}

	w, ok := s.wallets[t.WalletID]
	if !ok {
		return PostingResult{}, ErrWalletNotFound
	}

	if !t.Kind.Outgoing() && exceedsBalanceLimit(w, t.Amount) {
		return PostingResult{}, errBalanceLimit()
	}

	t.Status = StatusPending
	idx := s.appendLocked(t)

	if t.Kind.Outgoing() && w.Available().LessThan(t.Amount) {
		s.transactions[idx].Status = StatusFailed
		return PostingResult{Transaction: s.transactions[idx], Wallet: w}, insufficient(w, t.Amount)
	}

	w.Balance = w.Balance.Add(t.Delta())
	w.UpdatedAt = time.Now().UTC()
	s.wallets[w.ID] = w
	s.transactions[idx].Status = StatusCompleted

	return PostingResult{Transaction: s.transactions[idx], Wallet: w}, nil
}

func (s *MemoryStore) ApplyTransfer(_ context.Context, p TransferPosting) (TransferApplied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, in := p.Outgoing, p.Incoming
	if out.IdempotencyKey != "" {
		if idx, ok := s.keys[idempotencyIndexKey(out.UserID, out.IdempotencyKey)]; ok {
			return s.replayTransferLocked(s.transactions[idx])
		}
	}

	sender, ok := s.wallets[out.WalletID]
	if !ok {
		return TransferApplied{}, ErrWalletNotFound
	}
	recipient, ok := s.wallets[in.WalletID]
	if !ok {
		return TransferApplied{}, ErrRecipientWalletNotFound
	}
	if sender.Available().LessThan(out.Amount) {
		return TransferApplied{}, insufficient(sender, out.Amount)
	}
	if exceedsBalanceLimit(recipient, in.Amount) {
		return TransferApplied{}, errBalanceLimit()
	}

	now := time.Now().UTC()
	sender.Balance = sender.Balance.Sub(out.Amount)
	sender.UpdatedAt = now
	recipient.Balance = recipient.Balance.Add(in.Amount)
	recipient.UpdatedAt = now
	s.wallets[sender.ID] = sender
	s.wallets[recipient.ID] = recipient

	out.Status = StatusCompleted
	in.Status = StatusCompleted
	s.appendLocked(out)
	s.appendLocked(in)

	return TransferApplied{Outgoing: out, Incoming: in, Sender: sender, Recipient: recipient}, nil
}

func (s *MemoryStore) replayTransferLocked(out Transaction) (TransferApplied, error) {
	res := TransferApplied{Outgoing: out, Sender: s.wallets[out.WalletID]}
	for _, t := range s.transactions {
		if t.Reference == out.Reference && t.ID != out.ID && t.Metadata[metadataDirection] == directionIncoming {
			res.Incoming = t
			res.Recipient = s.wallets[t.WalletID]
			break
		}
	}
	return res, ErrDuplicateTransaction
}

func (s *MemoryStore) appendLocked(t Transaction) int {
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	idx := len(s.transactions)
	s.transactions = append(s.transactions, t)
	if t.IdempotencyKey != "" {
		s.keys[idempotencyIndexKey(t.UserID, t.IdempotencyKey)] = idx
	}
	return idx
}

func (s *MemoryStore) TransactionsByReference(_ context.Context, userID, reference string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Transaction
	visible := false
	for _, t := range s.transactions {
		if t.Reference != reference {
			continue
		}
		matched = append(matched, t)
		if t.UserID == userID {
			visible = true
		}
	}
	if !visible {
		return nil, ErrTransactionNotFound
	}
	return matched, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f TransactionFilter) (TransactionPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.UserID != f.UserID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.Currency != "" && t.Currency != f.Currency {
			continue
		}
		matched = append(matched, t)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := TransactionPage{Total: int64(len(matched)), Page: f.Page, Limit: f.Limit}
	start := f.Offset()
	if start >= len(matched) {
		page.Transactions = []Transaction{}
		return page, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Transactions = append([]Transaction(nil), matched[start:end]...)
	return page, nil
}

func (s *MemoryStore) Stats(_ context.Context, w Wallet) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.wallets[w.ID]
	if !ok {
		return Stats{}, ErrWalletNotFound
	}
	stats := Stats{Wallet: current}
	totals := make(map[Kind]*KindTotal)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.WalletID != w.ID {
			continue
		}
		stats.TransactionCount++
		if len(stats.Recent) < recentLimit {
			stats.Recent = append(stats.Recent, t)
		}
		if t.Status != StatusCompleted {
			continue
		}
		kt, ok := totals[t.Kind]
		if !ok {
			kt = &KindTotal{Kind: t.Kind, Total: decimal.Zero}
			totals[t.Kind] = kt
		}
		kt.Count++
		kt.Total = kt.Total.Add(t.Amount)
	}
	for _, k := range Kinds {
		if kt, ok := totals[k]; ok {
			stats.ByKind = append(stats.ByKind, *kt)
		}
	}
	return stats, nil
}

// SeedWallet overwrites balance and frozen balance of a memory-store wallet. Test helper.
func SeedWallet(s *MemoryStore, walletID string, balance, frozen decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return
	}
	w.Balance = balance
	w.FrozenBalance = frozen
	s.wallets[walletID] = w
}
