package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dpay/wallet-ledger/internal/ledger"
)

// Service registers wallets and resolves them by identifier.
type Service struct {
	store  ledger.Store
	engine *ledger.Engine
	now    func() time.Time
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, engine *ledger.Engine) *Service {
	return &Service{store: store, engine: engine, now: ledger.Now}
}

// CreateInput captures data required to set up a wallet.
type CreateInput struct {
	Name    string
	Balance decimal.Decimal
}

// Created is a committed wallet together with its opening transaction.
type Created struct {
	Wallet  ledger.Wallet
	Opening ledger.Transaction
}

// Create persists a wallet and its opening CREDIT in one unit of work.
func (s *Service) Create(ctx context.Context, input CreateInput) (Created, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Created{}, fmt.Errorf("%w: wallet name is required", ledger.ErrValidation)
	}
	if input.Balance.IsNegative() {
		return Created{}, fmt.Errorf("%w: unable to initialize wallet with a negative balance", ledger.ErrValidation)
	}

	_, err := s.store.FindWalletByName(ctx, input.Name)
	switch {
	case err == nil:
		return Created{}, fmt.Errorf("%w: wallet %q already exists", ledger.ErrConflict, input.Name)
	case !errors.Is(err, ledger.ErrNotFound):
		return Created{}, err
	}

	now := s.now()
	w := ledger.Wallet{
		ID:        uuid.NewString(),
		Name:      input.Name,
		Balance:   input.Balance,
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var opening ledger.Transaction
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		t, err := s.engine.Open(ctx, tx, w)
		if err != nil {
			return err
		}
		opening = t
		return nil
	})
	if err != nil {
		return Created{}, err
	}

	s.engine.Opened(ctx, opening)
	return Created{Wallet: w, Opening: opening}, nil
}

// Get retrieves a wallet by identifier.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	if err := ledger.ValidateID(id); err != nil {
		return ledger.Wallet{}, err
	}
	return s.store.GetWallet(ctx, id)
}
