package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindWalletCreated is emitted once a wallet and its opening balance are committed.
	KindWalletCreated = "wallet.created"
	// KindTransactionApplied is emitted once a transact call is committed.
	KindTransactionApplied = "transaction.applied"
)

// Message describes a ledger event.
type Message struct {
	Kind          string    `json:"kind"`
	WalletID      string    `json:"wallet_id"`
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	Balance       string    `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier delivers ledger events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes events to the structured logger. It is used when no
// broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("ledger event",
		"kind", message.Kind,
		"wallet_id", message.WalletID,
		"transaction_id", message.TransactionID,
		"type", message.Type,
		"amount", message.Amount,
		"balance", message.Balance,
	)
	return nil
}

// Nop discards every message.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, Message) error { return nil }
