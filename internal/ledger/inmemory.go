package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	names        map[string]string
	transactions map[string][]Transaction
	txIDs        map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory store useful for tests and
// local development. Units of work stage their writes and validate versions
// and uniqueness when they commit.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:      make(map[string]Wallet),
		names:        make(map[string]string),
		transactions: make(map[string][]Transaction),
		txIDs:        make(map[string]struct{}),
	}
}

func (s *inMemoryStore) Ping(context.Context) error { return nil }

func (s *inMemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w, nil
}

func (s *inMemoryStore) FindWalletByName(_ context.Context, name string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[name]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: no wallet named %q", ErrNotFound, name)
	}
	return s.wallets[id], nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, walletID string, page Page) ([]Transaction, error) {
	s.mu.RLock()
	history := slices.Clone(s.transactions[walletID])
	s.mu.RUnlock()

	slices.SortStableFunc(history, func(a, b Transaction) int {
		if c := a.ExecutedAt.Compare(b.ExecutedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	if page.Skip >= len(history) {
		return []Transaction{}, nil
	}
	history = history[page.Skip:]
	if page.Limit > 0 && page.Limit < len(history) {
		history = history[:page.Limit]
	}
	return history, nil
}

func (s *inMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: s, wallets: make(map[string]memWalletWrite)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: unit of work cancelled: %w", ErrStorage, err)
	}
	return s.commit(tx)
}

func (s *inMemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, write := range tx.wallets {
		current, exists := s.wallets[id]
		if write.inserted {
			if exists {
				return fmt.Errorf("%w: wallet %s already exists", ErrConflict, id)
			}
			if _, taken := s.names[write.wallet.Name]; taken {
				return fmt.Errorf("%w: wallet name %q is already taken", ErrConflict, write.wallet.Name)
			}
			continue
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if current.Version != write.expected {
			return ErrVersionConflict
		}
	}
	for _, t := range tx.transactions {
		if _, dup := s.txIDs[t.ID]; dup {
			return fmt.Errorf("%w: transaction %s already exists", ErrConflict, t.ID)
		}
	}

	for id, write := range tx.wallets {
		s.wallets[id] = write.wallet
		if write.inserted {
			s.names[write.wallet.Name] = id
		}
	}
	for _, t := range tx.transactions {
		s.transactions[t.WalletID] = append(s.transactions[t.WalletID], t)
		s.txIDs[t.ID] = struct{}{}
	}
	return nil
}

type memWalletWrite struct {
	wallet   Wallet
	expected int64
	inserted bool
}

type memTx struct {
	store        *inMemoryStore
	wallets      map[string]memWalletWrite
	transactions []Transaction
}

func (t *memTx) InsertWallet(_ context.Context, w Wallet) error {
	if _, staged := t.wallets[w.ID]; staged {
		return fmt.Errorf("%w: wallet %s already exists", ErrConflict, w.ID)
	}
	t.wallets[w.ID] = memWalletWrite{wallet: w, inserted: true}
	return nil
}

func (t *memTx) GetWalletForUpdate(ctx context.Context, id string) (Wallet, error) {
	if write, staged := t.wallets[id]; staged {
		return write.wallet, nil
	}
	return t.store.GetWallet(ctx, id)
}

func (t *memTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	if _, staged := t.wallets[txn.WalletID]; !staged {
		if _, err := t.store.GetWallet(ctx, txn.WalletID); err != nil {
			return err
		}
	}
	t.transactions = append(t.transactions, txn)
	return nil
}

func (t *memTx) UpdateBalance(ctx context.Context, w Wallet) error {
	if write, staged := t.wallets[w.ID]; staged {
		if write.wallet.Version != w.Version {
			return ErrVersionConflict
		}
		write.wallet.Balance = w.Balance
		write.wallet.UpdatedAt = w.UpdatedAt
		write.wallet.Version++
		t.wallets[w.ID] = write
		return nil
	}

	current, err := t.store.GetWallet(ctx, w.ID)
	if err != nil {
		return err
	}
	if current.Version != w.Version {
		return ErrVersionConflict
	}
	current.Balance = w.Balance
	current.UpdatedAt = w.UpdatedAt
	current.Version = w.Version + 1
	t.wallets[w.ID] = memWalletWrite{wallet: current, expected: w.Version}
	return nil
}
