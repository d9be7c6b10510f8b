package ledger

import (
	"context"
	"errors"
	"testing"
)

func buyIn(tableID, userID string, amount int64, key string) PostInput {
	return PostInput{
		UserID:         userID,
		TxType:         TxBuyIn,
		IdempotencyKey: key,
		Entries: []Entry{
			{AccountType: AccountUser, UserID: userID, Amount: -amount},
			{AccountType: AccountEscrow, SystemKey: EscrowKeyForTable(tableID), Amount: amount},
		},
	}
}

func TestPostMovesBalances(t *testing.T) {
	p := NewMemoryPoster()
	ctx := context.Background()

	if _, err := p.PostTransaction(ctx, buyIn("t1", "alice", 500, "join:t1:alice:r1")); err != nil {
		t.Fatal(err)
	}
	bal, err := p.AccountBalance(ctx, AccountEscrow, EscrowKeyForTable("t1"))
	if err != nil || bal != 500 {
		t.Fatalf("escrow = %d err=%v", bal, err)
	}
	bal, _ = p.AccountBalance(ctx, AccountUser, "alice")
	if bal != -500 {
		t.Fatalf("user = %d", bal)
	}
}

func TestPostIsIdempotent(t *testing.T) {
	p := NewMemoryPoster()
	ctx := context.Background()
	in := buyIn("t1", "alice", 500, "join:t1:alice:r1")

	first, err := p.PostTransaction(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.PostTransaction(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed || second.ID != first.ID {
		t.Fatalf("replay: %+v vs %+v", second, first)
	}
	bal, _ := p.AccountBalance(ctx, AccountEscrow, EscrowKeyForTable("t1"))
	if bal != 500 {
		t.Fatalf("escrow doubled: %d", bal)
	}
	if p.Transactions() != 1 {
		t.Fatalf("%d postings", p.Transactions())
	}
}

func TestPostValidation(t *testing.T) {
	p := NewMemoryPoster()
	ctx := context.Background()

	in := buyIn("t1", "alice", 500, "k1")
	in.Entries[1].Amount = 400
	if _, err := p.PostTransaction(ctx, in); !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("unbalanced: %v", err)
	}

	in = buyIn("t1", "alice", 500, "")
	if _, err := p.PostTransaction(ctx, in); !errors.Is(err, ErrNoIdemKey) {
		t.Fatalf("missing key: %v", err)
	}

	if _, err := p.PostTransaction(ctx, PostInput{IdempotencyKey: "k2"}); !errors.Is(err, ErrEmptyEntries) {
		t.Fatalf("empty entries: %v", err)
	}
}

func TestNonZeroEscrowKeys(t *testing.T) {
	p := NewMemoryPoster()
	ctx := context.Background()
	if _, err := p.PostTransaction(ctx, buyIn("t1", "alice", 500, "k1")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.PostTransaction(ctx, buyIn("t2", "bob", 300, "k2")); err != nil {
		t.Fatal(err)
	}
	// Cash t2 back out so only t1 stays funded.
	if _, err := p.PostTransaction(ctx, PostInput{
		UserID: "bob", TxType: TxCashOut, IdempotencyKey: "k3",
		Entries: []Entry{
			{AccountType: AccountEscrow, SystemKey: EscrowKeyForTable("t2"), Amount: -300},
			{AccountType: AccountUser, UserID: "bob", Amount: 300},
		},
	}); err != nil {
		t.Fatal(err)
	}

	keys, err := p.NonZeroEscrowKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != EscrowKeyForTable("t1") {
		t.Fatalf("keys = %v", keys)
	}
}
