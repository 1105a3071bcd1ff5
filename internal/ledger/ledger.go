package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType carries the sign of a posting.
type TransactionType string

const (
	// TypeCredit increases the wallet balance.
	TypeCredit TransactionType = "CREDIT"
	// TypeDebit decreases the wallet balance.
	TypeDebit TransactionType = "DEBIT"

	// OpeningDescription labels the transaction recorded when a wallet is set up.
	OpeningDescription = "Opening Balance"
)

// Wallet is a named account holding a balance.
type Wallet struct {
	ID        string
	Name      string
	Balance   decimal.Decimal
	IsActive  bool
	IsDeleted bool
	// Version starts at 1 and is bumped on every balance mutation.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable credit or debit applied to a wallet.
type Transaction struct {
	ID             string
	WalletID       string
	Amount         decimal.Decimal
	Type           TransactionType
	ClosingBalance decimal.Decimal
	Description    string
	ExecutedAt     time.Time
	// Sequence is the wallet version right after this transaction was applied.
	Sequence int64
}

// Signed returns the amount with the sign implied by the transaction type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Page bounds a history query.
type Page struct {
	Skip  int
	Limit int
}

// Store is the storage adapter over the wallets and transactions collections.
// Reads outside RunInTx observe committed state only.
type Store interface {
	// RunInTx executes fn as a single unit of work. Writes made through tx
	// become visible together when fn returns nil and are discarded otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetWallet(ctx context.Context, id string) (Wallet, error)
	FindWalletByName(ctx context.Context, name string) (Wallet, error)
	// ListTransactions returns a wallet's transactions ordered by execution
	// time, then sequence.
	ListTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, error)
	Ping(ctx context.Context) error
}

// Tx is the write side of a unit of work.
type Tx interface {
	InsertWallet(ctx context.Context, w Wallet) error
	// GetWalletForUpdate reads a wallet and, where the backend supports it,
	// locks it until the unit of work ends.
	GetWalletForUpdate(ctx context.Context, id string) (Wallet, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	// UpdateBalance stores w.Balance and w.UpdatedAt when the stored version
	// still equals w.Version, and bumps the stored version by one.
	UpdateBalance(ctx context.Context, w Wallet) error
}

// Now returns the service clock reading: UTC, truncated to milliseconds so
// every backend round-trips it exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
