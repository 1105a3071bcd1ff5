package history

import (
	"context"
	"fmt"

	"github.com/dpay/wallet-ledger/internal/ledger"
)

const (
	// DefaultLimit applies when no limit is requested.
	DefaultLimit = 100
	// DefaultMaxLimit caps the page size unless configured otherwise.
	DefaultMaxLimit = 500
)

// Service pages through a wallet's transaction history.
type Service struct {
	store    ledger.Store
	maxLimit int
}

// NewService builds a history service. A non-positive maxLimit selects DefaultMaxLimit.
func NewService(store ledger.Store, maxLimit int) *Service {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Service{store: store, maxLimit: maxLimit}
}

// ListInput selects a page of history. Limit 0 means DefaultLimit.
type ListInput struct {
	WalletID string
	Skip     int
	Limit    int
}

// List returns the wallet's transactions in execution order, skipping Skip
// records and returning at most Limit, capped at the configured maximum.
func (s *Service) List(ctx context.Context, in ListInput) ([]ledger.Transaction, error) {
	if err := ledger.ValidateID(in.WalletID); err != nil {
		return nil, err
	}
	if in.Skip < 0 {
		return nil, fmt.Errorf("%w: skip cannot be negative", ledger.ErrValidation)
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("%w: limit cannot be negative", ledger.ErrValidation)
	}

	limit := in.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	if _, err := s.store.GetWallet(ctx, in.WalletID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, in.WalletID, ledger.Page{Skip: in.Skip, Limit: limit})
}
