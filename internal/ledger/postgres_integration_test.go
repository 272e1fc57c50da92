//go:build integration

package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/tradefin/walletledger/internal/infra"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/ledger/
func newPostgresService(t *testing.T) (*Service, fakeDirectory) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, infra.Migrate(ctx, pool))

	dir := fakeDirectory{}
	return NewService(NewPostgresStore(pool), dir, nil), dir
}

// fundPostgres provisions a USD wallet for a fresh user and credits it.
func fundPostgres(t *testing.T, svc *Service, amount string) string {
	t.Helper()
	userID := uuid.NewString()
	_, err := svc.ProvisionWallet(context.Background(), userID, "USD")
	require.NoError(t, err)
	if amount != "0" {
		_, err = svc.RecordTransaction(context.Background(), RecordInput{
			UserID: userID, Kind: KindCredit, Amount: dec(amount),
		})
		require.NoError(t, err)
	}
	return userID
}

func postgresBalance(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	w, err := svc.GetBalance(context.Background(), userID, "USD")
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func TestPostgresConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _ := newPostgresService(t)
	userID := fundPostgres(t, svc, "1000")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordTransaction(context.Background(), RecordInput{
				UserID: userID, Kind: KindDebit, Amount: dec("600"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)
	require.Equal(t, "400.00", postgresBalance(t, svc, userID))

	page, err := svc.ListTransactions(context.Background(), TransactionFilter{UserID: userID, Kind: KindDebit, Limit: 10})
	require.NoError(t, err)
	completed := 0
	for _, tx := range page.Transactions {
		if tx.Status == StatusCompleted {
			completed++
		}
	}
	require.Equal(t, 1, completed)
}

func TestPostgresManyConcurrentDebits(t *testing.T) {
	svc, _ := newPostgresService(t)
	userID := fundPostgres(t, svc, "1000")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.RecordTransaction(context.Background(), RecordInput{
				UserID: userID, Kind: KindDebit, Amount: dec("150"),
			})
		}()
	}
	wg.Wait()

	require.Equal(t, "100.00", postgresBalance(t, svc, userID))
}

func TestPostgresTransferConservesFunds(t *testing.T) {
	svc, dir := newPostgresService(t)
	sender := fundPostgres(t, svc, "1000")
	recipient := fundPostgres(t, svc, "200")
	email := recipient + "@example.com"
	dir[email] = Recipient{UserID: recipient, Email: email, DisplayName: "Bob"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.TransferFunds(context.Background(), TransferInput{
				SenderID: sender, RecipientEmail: email, Amount: dec("300"), Currency: "USD",
			})
		}()
	}
	wg.Wait()

	require.Equal(t, "100.00", postgresBalance(t, svc, sender))
	require.Equal(t, "1100.00", postgresBalance(t, svc, recipient))
}

func TestPostgresIdempotentReplay(t *testing.T) {
	svc, dir := newPostgresService(t)
	sender := fundPostgres(t, svc, "100")
	recipient := fundPostgres(t, svc, "0")
	email := recipient + "@example.com"
	dir[email] = Recipient{UserID: recipient, Email: email, DisplayName: "Bob"}
	ctx := context.Background()

	first, err := svc.RecordTransaction(ctx, RecordInput{UserID: sender, Kind: KindDebit, Amount: dec("40"), IdempotencyKey: "d-1"})
	require.NoError(t, err)
	second, err := svc.RecordTransaction(ctx, RecordInput{UserID: sender, Kind: KindDebit, Amount: dec("40"), IdempotencyKey: "d-1"})
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	require.Equal(t, first.Transaction.ID, second.Transaction.ID)
	require.Equal(t, "60.00", postgresBalance(t, svc, sender))

	in := TransferInput{SenderID: sender, RecipientEmail: email, Amount: dec("10"), Currency: "USD", IdempotencyKey: "t-1"}
	sent, err := svc.TransferFunds(ctx, in)
	require.NoError(t, err)
	again, err := svc.TransferFunds(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	require.Equal(t, sent.Reference, again.Reference)

	_, err = svc.TransferFunds(ctx, TransferInput{SenderID: sender, RecipientEmail: email, Amount: dec("10"), Currency: "USD", IdempotencyKey: "d-1"})
	require.ErrorIs(t, err, ErrIdempotencyKeyReused)

	require.Equal(t, "50.00", postgresBalance(t, svc, sender))
	require.Equal(t, "10.00", postgresBalance(t, svc, recipient))
}

func TestPostgresCreditBeyondColumnPrecision(t *testing.T) {
	svc, _ := newPostgresService(t)
	userID := fundPostgres(t, svc, MaxAmount.String())

	_, err := svc.RecordTransaction(context.Background(), RecordInput{UserID: userID, Kind: KindCredit, Amount: dec("1")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, MaxAmount.StringFixed(2), postgresBalance(t, svc, userID))
}
