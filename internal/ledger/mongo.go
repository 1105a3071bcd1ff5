package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	walletsCollection      = "wallets"
	transactionsCollection = "transactions"
)

type walletDoc struct {
	ID        string          `bson:"_id"`
	Name      string          `bson:"name"`
	Balance   bson.Decimal128 `bson:"balance"`
	IsActive  bool            `bson:"is_active"`
	IsDeleted bool            `bson:"is_deleted"`
	Version   int64           `bson:"version"`
	CreatedAt time.Time       `bson:"created_at"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

type transactionDoc struct {
	ID             string          `bson:"_id"`
	WalletID       string          `bson:"wallet_id"`
	Amount         bson.Decimal128 `bson:"amount"`
	Type           string          `bson:"type"`
	ClosingBalance bson.Decimal128 `bson:"closing_balance"`
	Description    string          `bson:"description"`
	ExecutedAt     time.Time       `bson:"executed_at"`
	Sequence       int64           `bson:"sequence"`
}

// MongoStore keeps wallets and transactions as documents. Units of work run
// as multi-document session transactions, which require a replica set.
type MongoStore struct {
	client       *mongo.Client
	wallets      *mongo.Collection
	transactions *mongo.Collection
}

// NewMongoStore binds the store to the named database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:       client,
		wallets:      db.Collection(walletsCollection),
		transactions: db.Collection(transactionsCollection),
	}
}

// EnsureIndexes creates the unique name index and the history index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.wallets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("wallets_name_unique"),
	})
	if err != nil {
		return fmt.Errorf("%w: create wallet indexes: %w", ErrStorage, err)
	}
	_, err = s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "wallet_id", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("transactions_wallet_sequence_unique"),
		},
		{
			Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "executed_at", Value: 1}, {Key: "sequence", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create transaction indexes: %w", ErrStorage, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// GetWallet fetches a wallet by identifier.
func (s *MongoStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	return findWallet(ctx, s.wallets, bson.D{{Key: "_id", Value: id}}, id)
}

// FindWalletByName fetches a wallet by its exact name.
func (s *MongoStore) FindWalletByName(ctx context.Context, name string) (Wallet, error) {
	return findWallet(ctx, s.wallets, bson.D{{Key: "name", Value: name}}, name)
}

// ListTransactions returns a page of a wallet's history in execution order.
func (s *MongoStore) ListTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: 1}, {Key: "sequence", Value: 1}}).
		SetSkip(int64(page.Skip))
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	cursor, err := s.transactions.Find(ctx, bson.D{{Key: "wallet_id", Value: walletID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", ErrStorage, err)
	}
	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode transactions: %w", ErrStorage, err)
	}

	out := make([]Transaction, 0, len(docs))
	for _, doc := range docs {
		t, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RunInTx executes fn inside a session transaction. The driver retries fn on
// transient transaction errors such as write conflicts.
func (s *MongoStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %w", ErrStorage, err)
	}
	defer sess.EndSession(ctx)

	tx := &mongoTx{store: s}
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, tx)
	})
	return err
}

type mongoTx struct {
	store *MongoStore
}

func (t *mongoTx) InsertWallet(ctx context.Context, w Wallet) error {
	balance, err := toDecimal128(w.Balance)
	if err != nil {
		return err
	}
	_, err = t.store.wallets.InsertOne(ctx, walletDoc{
		ID:        w.ID,
		Name:      w.Name,
		Balance:   balance,
		IsActive:  w.IsActive,
		IsDeleted: w.IsDeleted,
		Version:   w.Version,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	})
	if err != nil {
		return classifyMongoError("insert wallet", err)
	}
	return nil
}

func (t *mongoTx) GetWalletForUpdate(ctx context.Context, id string) (Wallet, error) {
	return findWallet(ctx, t.store.wallets, bson.D{{Key: "_id", Value: id}}, id)
}

func (t *mongoTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	amount, err := toDecimal128(txn.Amount)
	if err != nil {
		return err
	}
	closing, err := toDecimal128(txn.ClosingBalance)
	if err != nil {
		return err
	}
	_, err = t.store.transactions.InsertOne(ctx, transactionDoc{
		ID:             txn.ID,
		WalletID:       txn.WalletID,
		Amount:         amount,
		Type:           string(txn.Type),
		ClosingBalance: closing,
		Description:    txn.Description,
		ExecutedAt:     txn.ExecutedAt,
		Sequence:       txn.Sequence,
	})
	if err != nil {
		return classifyMongoError("insert transaction", err)
	}
	return nil
}

func (t *mongoTx) UpdateBalance(ctx context.Context, w Wallet) error {
	balance, err := toDecimal128(w.Balance)
	if err != nil {
		return err
	}
	res, err := t.store.wallets.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: w.ID}, {Key: "version", Value: w.Version}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "balance", Value: balance}, {Key: "updated_at", Value: w.UpdatedAt}}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
	)
	if err != nil {
		return classifyMongoError("update wallet", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

func findWallet(ctx context.Context, coll *mongo.Collection, filter bson.D, key string) (Wallet, error) {
	var doc walletDoc
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Wallet{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Wallet{}, fmt.Errorf("%w: find wallet: %w", ErrStorage, err)
	}
	balance, err := fromDecimal128(doc.Balance)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{
		ID:        doc.ID,
		Name:      doc.Name,
		Balance:   balance,
		IsActive:  doc.IsActive,
		IsDeleted: doc.IsDeleted,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

func (d transactionDoc) toDomain() (Transaction, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return Transaction{}, err
	}
	closing, err := fromDecimal128(d.ClosingBalance)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:             d.ID,
		WalletID:       d.WalletID,
		Amount:         amount,
		Type:           TransactionType(d.Type),
		ClosingBalance: closing,
		Description:    d.Description,
		ExecutedAt:     d.ExecutedAt.UTC(),
		Sequence:       d.Sequence,
	}, nil
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("%w: amount %s out of range: %w", ErrValidation, d, err)
	}
	return v, nil
}

func fromDecimal128(v bson.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode decimal: %w", ErrStorage, err)
	}
	return d, nil
}

func classifyMongoError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "wallets_name_unique"):
			return fmt.Errorf("%w: wallet name is already taken", ErrConflict)
		case strings.Contains(msg, "transactions_wallet_sequence_unique"):
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %s: duplicate key", ErrConflict, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
