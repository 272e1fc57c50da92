package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradefin/walletledger/internal/notification"
)

type fakeDirectory map[string]Recipient

func (d fakeDirectory) FindActiveByEmail(_ context.Context, email string) (Recipient, error) {
	r, ok := d[strings.ToLower(email)]
	if !ok {
		return Recipient{}, ErrRecipientNotFound
	}
	return r, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

func (n *recordingNotifier) sent() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.messages...)
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// brokenStore fails the selected operations and delegates the rest.
type brokenStore struct {
	Store
	failWalletByUser  bool
	failApplyPosting  bool
	failApplyTransfer bool
}

func (b *brokenStore) WalletByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	if b.failWalletByUser {
		return Wallet{}, errConnRefused
	}
	return b.Store.WalletByUser(ctx, userID, currency)
}

func (b *brokenStore) ApplyPosting(ctx context.Context, p Posting) (PostingResult, error) {
	if b.failApplyPosting {
		return PostingResult{}, errConnRefused
	}
	return b.Store.ApplyPosting(ctx, p)
}

func (b *brokenStore) ApplyTransfer(ctx context.Context, p TransferPosting) (TransferApplied, error) {
	if b.failApplyTransfer {
		return TransferApplied{}, errConnRefused
	}
	return b.Store.ApplyTransfer(ctx, p)
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	notifier *recordingNotifier
	dir      fakeDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	dir := fakeDirectory{}
	return &fixture{
		svc:      NewService(store, dir, notifier),
		store:    store,
		notifier: notifier,
		dir:      dir,
	}
}

// fund provisions a USD wallet for userID holding balance, of which frozen is held.
func (f *fixture) fund(t *testing.T, userID, balance, frozen string) Wallet {
	t.Helper()
	w, err := f.svc.ProvisionWallet(context.Background(), userID, "USD")
	require.NoError(t, err)
	SeedWallet(f.store, w.ID, dec(balance), dec(frozen))
	w, err = f.svc.GetBalance(context.Background(), userID, "USD")
	require.NoError(t, err)
	return w
}

func (f *fixture) user(t *testing.T, userID, email, name, balance string) Wallet {
	t.Helper()
	f.dir[email] = Recipient{UserID: userID, Email: email, DisplayName: name}
	return f.fund(t, userID, balance, "0")
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := f.svc.GetBalance(context.Background(), userID, "USD")
	require.NoError(t, err)
	return w.Balance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s got %s", want, got.String())
}
