package wallet

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/dpay/wallet-ledger/internal/ledger"
	"github.com/dpay/wallet-ledger/internal/response"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	engine  *ledger.Engine
	logger  *slog.Logger
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, engine *ledger.Engine, logger *slog.Logger) *Handler {
	return &Handler{service: service, engine: engine, logger: logger}
}

// Amounts decode from JSON numbers, numeric JSON strings and form values.
type setupRequest struct {
	Name    string           `json:"name" form:"name"`
	Balance *decimal.Decimal `json:"balance" form:"balance"`
}

type setupResponse struct {
	ID            string      `json:"id"`
	Balance       json.Number `json:"balance"`
	TransactionID string      `json:"transactionId"`
	Name          string      `json:"name"`
	Date          time.Time   `json:"date"`
}

type transactRequest struct {
	Amount      *decimal.Decimal `json:"amount" form:"amount"`
	Description string           `json:"description" form:"description"`
}

type transactResponse struct {
	Balance       json.Number `json:"balance"`
	TransactionID string      `json:"transactionId"`
}

type walletResponse struct {
	ID      string      `json:"id"`
	Balance json.Number `json:"balance"`
	Name    string      `json:"name"`
	Date    time.Time   `json:"date"`
}

// Setup creates a wallet with an opening balance.
func (h *Handler) Setup(c *fiber.Ctx) error {
	var req setupRequest
	if err := parseBody(c, &req); err != nil {
		return response.Error(c, h.logger, err)
	}
	balance := decimal.Zero
	if req.Balance != nil {
		balance = *req.Balance
	}

	created, err := h.service.Create(c.UserContext(), CreateInput{Name: req.Name, Balance: balance})
	if err != nil {
		return response.Error(c, h.logger, err)
	}
	return c.Status(http.StatusOK).JSON(setupResponse{
		ID:            created.Wallet.ID,
		Balance:       Number(created.Wallet.Balance),
		TransactionID: created.Opening.ID,
		Name:          created.Wallet.Name,
		Date:          created.Opening.ExecutedAt,
	})
}

// Transact applies a signed amount to the wallet named in the path.
func (h *Handler) Transact(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	if err := ledger.ValidateID(walletID); err != nil {
		return response.Error(c, h.logger, err)
	}

	var req transactRequest
	if err := parseBody(c, &req); err != nil {
		return response.Error(c, h.logger, err)
	}
	if req.Amount == nil {
		return response.Error(c, h.logger, fmt.Errorf("%w: amount is required", ledger.ErrValidation))
	}

	res, err := h.engine.Apply(c.UserContext(), ledger.ApplyInput{
		WalletID:    walletID,
		Amount:      *req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return response.Error(c, h.logger, err)
	}
	return c.Status(http.StatusOK).JSON(transactResponse{
		Balance:       Number(res.Wallet.Balance),
		TransactionID: res.Transaction.ID,
	})
}

// Get returns the wallet state.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.Error(c, h.logger, err, response.NotFoundAs(http.StatusBadRequest))
	}
	return c.Status(http.StatusOK).JSON(walletResponse{
		ID:      w.ID,
		Balance: Number(w.Balance),
		Name:    w.Name,
		Date:    w.CreatedAt,
	})
}

// Number renders a decimal as a JSON number literal.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// parseBody decodes a JSON or form body. An empty body leaves dst untouched.
func parseBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("%w: request body must be a JSON object or form: %v", ledger.ErrValidation, err)
	}
	return nil
}
