package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var postgresSchema string

const pgUniqueViolation = "23505"

// PostgresStore persists wallets and transactions in PostgreSQL. Wallet rows
// are locked with SELECT ... FOR UPDATE for the length of a unit of work.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables and indexes when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: apply schema: %w", ErrStorage, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const walletColumns = `id::text, name, balance::text, is_active, is_deleted, version, created_at, updated_at`

// GetWallet fetches a wallet by identifier.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := pgID(id)
	if err != nil {
		return Wallet{}, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	return scanWallet(row, id)
}

// FindWalletByName fetches a wallet by its exact name.
func (s *PostgresStore) FindWalletByName(ctx context.Context, name string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE name = $1`, name)
	return scanWallet(row, name)
}

// ListTransactions returns a page of a wallet's history in execution order.
func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, error) {
	const query = `
        SELECT id::text, wallet_id::text, amount::text, type, closing_balance::text,
               description, executed_at, sequence
        FROM transactions
        WHERE wallet_id = $1
        ORDER BY executed_at ASC, sequence ASC
        OFFSET $2 LIMIT $3`
	id, err := pgID(walletID)
	if err != nil {
		return nil, err
	}
	var limit any
	if page.Limit > 0 {
		limit = page.Limit
	}
	rows, err := s.db.Query(ctx, query, id, page.Skip, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", ErrStorage, err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		var (
			t                      Transaction
			amount, closing, txTyp string
		)
		if err := rows.Scan(&t.ID, &t.WalletID, &amount, &txTyp, &closing, &t.Description, &t.ExecutedAt, &t.Sequence); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %w", ErrStorage, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("%w: decode amount: %w", ErrStorage, err)
		}
		if t.ClosingBalance, err = decimal.NewFromString(closing); err != nil {
			return nil, fmt.Errorf("%w: decode closing balance: %w", ErrStorage, err)
		}
		t.Type = TransactionType(txTyp)
		t.ExecutedAt = t.ExecutedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", ErrStorage, err)
	}
	return out, nil
}

// RunInTx executes fn inside a read-committed database transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPgError("commit", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertWallet(ctx context.Context, w Wallet) error {
	id, err := pgID(w.ID)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO wallets (id, name, balance, is_active, is_deleted, version, created_at, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)`,
		id, w.Name, w.Balance.String(), w.IsActive, w.IsDeleted, w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return classifyPgError("insert wallet", err)
	}
	return nil
}

func (t *pgTx) GetWalletForUpdate(ctx context.Context, id string) (Wallet, error) {
	walletID, err := pgID(id)
	if err != nil {
		return Wallet{}, err
	}
	row := t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	return scanWallet(row, id)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	id, err := pgID(txn.ID)
	if err != nil {
		return err
	}
	walletID, err := pgID(txn.WalletID)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO transactions (id, wallet_id, amount, type, closing_balance, description, executed_at, sequence)
        VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6, $7, $8)`,
		id, walletID, txn.Amount.String(), string(txn.Type), txn.ClosingBalance.String(), txn.Description, txn.ExecutedAt, txn.Sequence)
	if err != nil {
		return classifyPgError("insert transaction", err)
	}
	return nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, w Wallet) error {
	id, err := pgID(w.ID)
	if err != nil {
		return err
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $1::numeric, updated_at = $2, version = version + 1
        WHERE id = $3 AND version = $4`, w.Balance.String(), w.UpdatedAt, id, w.Version)
	if err != nil {
		return classifyPgError("update wallet", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func scanWallet(row pgx.Row, key string) (Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	err := row.Scan(&w.ID, &w.Name, &balance, &w.IsActive, &w.IsDeleted, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Wallet{}, fmt.Errorf("%w: scan wallet: %w", ErrStorage, err)
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("%w: decode balance: %w", ErrStorage, err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "name") {
			return fmt.Errorf("%w: wallet name is already taken", ErrConflict)
		}
		if strings.Contains(pgErr.ConstraintName, "sequence") {
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %s: duplicate key", ErrConflict, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func pgID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a valid id", ErrValidation, id)
	}
	return u, nil
}
