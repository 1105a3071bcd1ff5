package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// runStoreSuite exercises the Store contract. Every backend runs it.
func runStoreSuite(t *testing.T, s Store) {
	t.Run("commit and read back", func(t *testing.T) { testStoreCommit(t, s) })
	t.Run("rollback on error", func(t *testing.T) { testStoreRollback(t, s) })
	t.Run("duplicate name", func(t *testing.T) { testStoreDuplicateName(t, s) })
	t.Run("stale version", func(t *testing.T) { testStoreStaleVersion(t, s) })
	t.Run("history ordering and paging", func(t *testing.T) { testStoreHistory(t, s) })
	t.Run("unknown wallet", func(t *testing.T) { testStoreUnknownWallet(t, s) })
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func newTestWallet(name string, balance string) Wallet {
	now := Now()
	return Wallet{
		ID:        uuid.NewString(),
		Name:      name,
		Balance:   decimal.RequireFromString(balance),
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func openingFor(w Wallet) Transaction {
	return Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Amount:         w.Balance,
		Type:           TypeCredit,
		ClosingBalance: w.Balance,
		Description:    OpeningDescription,
		ExecutedAt:     w.CreatedAt,
		Sequence:       1,
	}
}

func insertWithOpening(ctx context.Context, s Store, w Wallet) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, openingFor(w))
	})
}

func testStoreCommit(t *testing.T, s Store) {
	ctx := context.Background()
	w := newTestWallet(uniqueName("commit"), "12.3400")
	if err := insertWithOpening(ctx, s, w); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetWallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if got.Name != w.Name || !got.Balance.Equal(w.Balance) || got.Version != 1 || !got.IsActive || got.IsDeleted {
		t.Fatalf("unexpected wallet: %+v", got)
	}
	if !got.CreatedAt.Equal(w.CreatedAt) {
		t.Fatalf("created at %s, expected %s", got.CreatedAt, w.CreatedAt)
	}

	byName, err := s.FindWalletByName(ctx, w.Name)
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if byName.ID != w.ID {
		t.Fatalf("find by name returned %s, expected %s", byName.ID, w.ID)
	}

	history, err := s.ListTransactions(ctx, w.ID, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 1 || history[0].Description != OpeningDescription || history[0].Type != TypeCredit {
		t.Fatalf("unexpected history: %+v", history)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetWalletForUpdate(ctx, w.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.RequireFromString("20")
		locked.UpdatedAt = Now()
		return tx.UpdateBalance(ctx, locked)
	})
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}
	got, err = s.GetWallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("20")) || got.Version != 2 {
		t.Fatalf("update not applied: %+v", got)
	}
}

func testStoreRollback(t *testing.T, s Store) {
	ctx := context.Background()
	w := newTestWallet(uniqueName("rollback"), "5")
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, openingFor(w)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to be returned, got %v", err)
	}

	if _, err := s.GetWallet(ctx, w.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled back wallet should not exist, got %v", err)
	}
	if _, err := s.FindWalletByName(ctx, w.Name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled back name should be free, got %v", err)
	}
	history, err := s.ListTransactions(ctx, w.ID, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rolled back transactions are visible: %+v", history)
	}
}

func testStoreDuplicateName(t *testing.T, s Store) {
	ctx := context.Background()
	name := uniqueName("dup")
	if err := insertWithOpening(ctx, s, newTestWallet(name, "1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	second := newTestWallet(name, "2")
	if err := insertWithOpening(ctx, s, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.GetWallet(ctx, second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second wallet should not exist, got %v", err)
	}
}

func testStoreStaleVersion(t *testing.T, s Store) {
	ctx := context.Background()
	w := newTestWallet(uniqueName("stale"), "3")
	if err := insertWithOpening(ctx, s, w); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale := w
	stale.Version = 0
	stale.Balance = decimal.RequireFromString("100")
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateBalance(ctx, stale)
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, err := s.GetWallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !got.Balance.Equal(w.Balance) || got.Version != 1 {
		t.Fatalf("stale update leaked: %+v", got)
	}
}

func testStoreHistory(t *testing.T, s Store) {
	ctx := context.Background()
	w := newTestWallet(uniqueName("history"), "0")
	if err := insertWithOpening(ctx, s, w); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The last two share a timestamp and are ordered by sequence.
	at := w.CreatedAt.Add(time.Second)
	descriptions := []string{"first", "second", "third"}
	times := []time.Time{at, at.Add(time.Second), at.Add(time.Second)}
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for i := len(descriptions) - 1; i >= 0; i-- {
			txn := Transaction{
				ID:             uuid.NewString(),
				WalletID:       w.ID,
				Amount:         decimal.NewFromInt(1),
				Type:           TypeCredit,
				ClosingBalance: decimal.NewFromInt(int64(i + 1)),
				Description:    descriptions[i],
				ExecutedAt:     times[i],
				Sequence:       int64(i + 2),
			}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert history: %v", err)
	}

	all, err := s.ListTransactions(ctx, w.ID, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{OpeningDescription, "first", "second", "third"}
	if len(all) != len(want) {
		t.Fatalf("expected %d transactions, got %d", len(want), len(all))
	}
	for i, d := range want {
		if all[i].Description != d {
			t.Fatalf("position %d: expected %q, got %q", i, d, all[i].Description)
		}
	}

	page, err := s.ListTransactions(ctx, w.ID, Page{Skip: 2, Limit: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].Description != "second" {
		t.Fatalf("unexpected page: %+v", page)
	}

	past, err := s.ListTransactions(ctx, w.ID, Page{Skip: 10, Limit: 5})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(past) != 0 {
		t.Fatalf("expected empty page, got %d", len(past))
	}
}

func testStoreUnknownWallet(t *testing.T, s Store) {
	ctx := context.Background()
	id := uuid.NewString()
	if _, err := s.GetWallet(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetWalletForUpdate(ctx, id)
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found inside unit of work, got %v", err)
	}
	history, err := s.ListTransactions(ctx, id, Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}
}
