package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dpay/wallet-ledger/internal/ledger"
	"github.com/dpay/wallet-ledger/internal/response"
)

// Handler exposes the transaction history endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a history handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type transactionResponse struct {
	ID          string      `json:"id"`
	WalletID    string      `json:"walletId"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Balance     json.Number `json:"balance"`
	Date        time.Time   `json:"date"`
	Type        string      `json:"type"`
}

// List returns a page of the wallet's transactions.
func (h *Handler) List(c *fiber.Ctx) error {
	skip, err := queryInt(c, "skip")
	if err != nil {
		return response.Error(c, h.logger, err)
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return response.Error(c, h.logger, err)
	}

	txns, err := h.service.List(c.UserContext(), ListInput{
		WalletID: c.Query("walletId"),
		Skip:     skip,
		Limit:    limit,
	})
	if err != nil {
		return response.Error(c, h.logger, err, response.NotFoundAs(http.StatusBadRequest))
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:          t.ID,
			WalletID:    t.WalletID,
			Amount:      json.Number(t.Amount.String()),
			Description: t.Description,
			Balance:     json.Number(t.ClosingBalance.String()),
			Date:        t.ExecutedAt,
			Type:        strings.ToUpper(string(t.Type)),
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ledger.ErrValidation, key)
	}
	return v, nil
}
