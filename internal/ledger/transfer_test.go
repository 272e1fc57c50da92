package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransferMovesFundsAtomically(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice Ltd", "1000")
	f.user(t, "bob", "bob@example.com", "Bob Co", "200")

	res, err := f.svc.TransferFunds(context.Background(), TransferInput{
		SenderID: "alice", RecipientEmail: "Bob@Example.com", Amount: dec("300"), Description: "invoice 12",
	})
	require.NoError(t, err)

	requireAmount(t, "700", f.balance(t, "alice"))
	requireAmount(t, "500", f.balance(t, "bob"))
	requireAmount(t, "700", res.SenderBalance)
	require.Equal(t, "Bob Co", res.RecipientName)
	require.Equal(t, "bob", res.RecipientUserID)

	require.NotEmpty(t, res.Reference)
	require.Equal(t, res.Reference, res.Outgoing.Reference)
	require.Equal(t, res.Reference, res.Incoming.Reference)
	require.Equal(t, KindTransfer, res.Outgoing.Kind)
	require.Equal(t, KindCredit, res.Incoming.Kind)
	require.Equal(t, StatusCompleted, res.Outgoing.Status)
	require.Equal(t, StatusCompleted, res.Incoming.Status)
	require.Equal(t, "bob", res.Outgoing.Metadata["recipient_id"])
	require.Equal(t, "alice", res.Incoming.Metadata["sender_id"])

	legs, err := f.svc.TransactionsByReference(context.Background(), "bob", res.Reference)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	sent := f.notifier.sent()
	require.Len(t, sent, 2)
	require.Equal(t, "alice", sent[0].UserID)
	require.Equal(t, "Transfer sent", sent[0].Title)
	require.Equal(t, "bob", sent[1].UserID)
	require.Equal(t, "Transfer received", sent[1].Title)
}

func TestTransferDefaultDescriptionNamesRecipient(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice Ltd", "10")
	f.user(t, "bob", "bob@example.com", "Bob Co", "0")

	res, err := f.svc.TransferFunds(context.Background(), TransferInput{
		SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("1"),
	})
	require.NoError(t, err)
	require.Equal(t, "Transfer to Bob Co", res.Description)
}

func TestTransferInsufficientLeavesBothWalletsUntouched(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "100")
	f.user(t, "bob", "bob@example.com", "Bob", "5")

	_, err := f.svc.TransferFunds(context.Background(), TransferInput{
		SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("100.01"),
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	requireAmount(t, "100", f.balance(t, "alice"))
	requireAmount(t, "5", f.balance(t, "bob"))

	for _, user := range []string{"alice", "bob"} {
		page, err := f.svc.ListTransactions(context.Background(), TransactionFilter{UserID: user})
		require.NoError(t, err)
		require.Zero(t, page.Total)
	}
	require.Empty(t, f.notifier.sent())
}

func TestTransferUnknownRecipient(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "100")

	_, err := f.svc.TransferFunds(context.Background(), TransferInput{
		SenderID: "alice", RecipientEmail: "nobody@example.com", Amount: dec("10"),
	})
	require.ErrorIs(t, err, ErrRecipientNotFound)
	requireAmount(t, "100", f.balance(t, "alice"))
}

func TestTransferRecipientWithoutWallet(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "100")
	f.dir["carol@example.com"] = Recipient{UserID: "carol", Email: "carol@example.com", DisplayName: "Carol"}

	_, err := f.svc.TransferFunds(context.Background(), TransferInput{
		SenderID: "alice", RecipientEmail: "carol@example.com", Amount: dec("10"),
	})
	require.ErrorIs(t, err, ErrRecipientWalletNotFound)
	requireAmount(t, "100", f.balance(t, "alice"))
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "100")

	cases := map[string]TransferInput{
		"self":      {SenderID: "alice", RecipientEmail: "alice@example.com", Amount: dec("1")},
		"bad email": {SenderID: "alice", RecipientEmail: "not-an-email", Amount: dec("1")},
		"zero":      {SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("0")},
		"currency":  {SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("1"), Currency: "US"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.TransferFunds(context.Background(), in)
			require.True(t, IsValidation(err), "expected validation error, got %v", err)
		})
	}
	requireAmount(t, "100", f.balance(t, "alice"))
}

func TestTransferIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "100")
	f.user(t, "bob", "bob@example.com", "Bob", "0")
	in := TransferInput{SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("40"), IdempotencyKey: "tx-1"}

	first, err := f.svc.TransferFunds(context.Background(), in)
	require.NoError(t, err)

	second, err := f.svc.TransferFunds(context.Background(), in)
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	require.Equal(t, first.Reference, second.Reference)
	require.Equal(t, first.Incoming.ID, second.Incoming.ID)
	require.Equal(t, "Bob", second.RecipientName)

	requireAmount(t, "60", f.balance(t, "alice"))
	requireAmount(t, "40", f.balance(t, "bob"))
}

func TestTransferStoreFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "100")
	f.user(t, "bob", "bob@example.com", "Bob", "0")

	svc := NewService(&brokenStore{Store: f.store, failApplyTransfer: true}, f.dir, f.notifier)
	_, err := svc.TransferFunds(context.Background(), TransferInput{
		SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("10"),
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	requireAmount(t, "100", f.balance(t, "alice"))
	requireAmount(t, "0", f.balance(t, "bob"))
}

func TestOpposingConcurrentTransfersConserveFunds(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", "alice@example.com", "Alice", "500")
	f.user(t, "bob", "bob@example.com", "Bob", "500")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.TransferFunds(context.Background(), TransferInput{
				SenderID: "alice", RecipientEmail: "bob@example.com", Amount: dec("7"),
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.TransferFunds(context.Background(), TransferInput{
				SenderID: "bob", RecipientEmail: "alice@example.com", Amount: dec("3"),
			})
		}()
	}
	wg.Wait()

	total := f.balance(t, "alice").Add(f.balance(t, "bob"))
	requireAmount(t, "1000", total)
	require.False(t, f.balance(t, "alice").IsNegative())
	require.False(t, f.balance(t, "bob").IsNegative())
}
