package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dpay/wallet-ledger/internal/notification"
)

const defaultMaxAttempts = 5

// Engine applies signed amounts to wallets so that a wallet's balance always
// equals the closing balance of its latest transaction.
type Engine struct {
	store       Store
	locks       *lockTable
	notifier    notification.Notifier
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifier publishes a transaction.applied event after every commit.
func WithNotifier(n notification.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxAttempts bounds how often a unit of work is retried after a version conflict.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewEngine builds an engine over the store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		locks:       newLockTable(),
		notifier:    notification.Nop{},
		logger:      slog.Default(),
		now:         Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyInput describes one transact call. A positive amount credits the
// wallet, a negative one debits it.
type ApplyInput struct {
	WalletID    string
	Amount      decimal.Decimal
	Description string
}

// ApplyResult is the committed outcome of Apply.
type ApplyResult struct {
	Wallet      Wallet
	Transaction Transaction
}

// Apply validates and records a transaction, updating the wallet balance in
// the same unit of work. Calls for the same wallet are serialized.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	if err := ValidateID(in.WalletID); err != nil {
		return ApplyResult{}, err
	}
	if in.Amount.IsZero() {
		return ApplyResult{}, fmt.Errorf("%w: amount must be a non-zero number", ErrValidation)
	}

	unlock, err := e.locks.Lock(ctx, in.WalletID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: wait for wallet lock: %w", ErrUnavailable, err)
	}
	defer unlock()

	var res ApplyResult
	for attempt := 1; ; attempt++ {
		res, err = e.applyOnce(ctx, in)
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
		if attempt >= e.maxAttempts {
			return ApplyResult{}, fmt.Errorf("%w: wallet %s is being updated concurrently", ErrConflict, in.WalletID)
		}
		e.logger.Warn("retrying transaction after version conflict",
			slog.String("wallet_id", in.WalletID), slog.Int("attempt", attempt))
	}
	if err != nil {
		return ApplyResult{}, err
	}

	e.publish(ctx, notification.KindTransactionApplied, res.Transaction)
	return res, nil
}

func (e *Engine) applyOnce(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	var res ApplyResult
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, in.WalletID)
		if err != nil {
			return err
		}

		if in.Amount.IsNegative() && in.Amount.Abs().GreaterThan(w.Balance) {
			return fmt.Errorf("%w: debit of %s exceeds balance %s", ErrInsufficientBalance, in.Amount.Abs(), w.Balance)
		}

		txType := TypeCredit
		if in.Amount.IsNegative() {
			txType = TypeDebit
		}
		now := e.now()
		closing := w.Balance.Add(in.Amount)

		t := Transaction{
			ID:             uuid.NewString(),
			WalletID:       w.ID,
			Amount:         in.Amount.Abs(),
			Type:           txType,
			ClosingBalance: closing,
			Description:    in.Description,
			ExecutedAt:     now,
			Sequence:       w.Version + 1,
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}

		w.Balance = closing
		w.UpdatedAt = now
		if err := tx.UpdateBalance(ctx, w); err != nil {
			return err
		}
		w.Version++

		res = ApplyResult{Wallet: w, Transaction: t}
		return nil
	})
	return res, err
}

// Open records the opening CREDIT for a wallet that was just inserted through
// tx. The wallet's balance, version and creation time seed the transaction.
func (e *Engine) Open(ctx context.Context, tx Tx, w Wallet) (Transaction, error) {
	if w.Balance.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: opening balance cannot be negative", ErrValidation)
	}
	t := Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Amount:         w.Balance,
		Type:           TypeCredit,
		ClosingBalance: w.Balance,
		Description:    OpeningDescription,
		ExecutedAt:     w.CreatedAt,
		Sequence:       w.Version,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// Opened publishes wallet.created for a committed opening transaction.
func (e *Engine) Opened(ctx context.Context, t Transaction) {
	e.publish(ctx, notification.KindWalletCreated, t)
}

func (e *Engine) publish(ctx context.Context, kind string, t Transaction) {
	msg := notification.Message{
		Kind:          kind,
		WalletID:      t.WalletID,
		TransactionID: t.ID,
		Type:          string(t.Type),
		Amount:        t.Amount.String(),
		Balance:       t.ClosingBalance.String(),
		OccurredAt:    t.ExecutedAt,
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("publish ledger event", slog.String("kind", kind), slog.Any("error", err))
	}
}

// ValidateID reports whether id is a well-formed wallet or transaction identifier.
func ValidateID(id string) error {
	if u, err := uuid.Parse(id); err != nil || u.String() != id {
		return fmt.Errorf("%w: %q is not a valid wallet id", ErrValidation, id)
	}
	return nil
}
