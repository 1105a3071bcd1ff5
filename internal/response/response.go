package response

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dpay/wallet-ledger/internal/ledger"
)

// Machine-readable error codes.
const (
	CodeValidation          = "validation_error"
	CodeConflict            = "conflict"
	CodeNotFound            = "not_found"
	CodeInsufficientBalance = "insufficient_balance"
	CodeStorage             = "storage_error"
	CodeUnavailable         = "unavailable"
)

const storageMessage = "internal storage failure"

// Body is the JSON shape of every error response.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type options struct {
	notFoundStatus int
}

// Option adjusts how an error is rendered.
type Option func(*options)

// NotFoundAs renders ledger.ErrNotFound with the given status instead of 404.
func NotFoundAs(status int) Option {
	return func(o *options) { o.notFoundStatus = status }
}

// Error writes err as a structured error body. Storage failures are logged
// through logger and rendered with a fixed message.
func Error(c *fiber.Ctx, logger *slog.Logger, err error, opts ...Option) error {
	o := options{notFoundStatus: http.StatusNotFound}
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case errors.Is(err, ledger.ErrValidation):
		return write(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return write(c, http.StatusBadRequest, CodeInsufficientBalance, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		return write(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return write(c, o.notFoundStatus, CodeNotFound, ledger.ErrNotFound.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		return write(c, http.StatusServiceUnavailable, CodeUnavailable, ledger.ErrUnavailable.Error())
	default:
		if logger != nil {
			requestID, _ := c.Locals("X-Request-ID").(string)
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.String("request_id", requestID),
				slog.Any("error", err))
		}
		return write(c, http.StatusInternalServerError, CodeStorage, storageMessage)
	}
}

// ErrorHandler renders errors that escape handlers and middleware, such as
// *fiber.Error values, in the same body shape.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return write(c, fe.Code, codeForStatus(fe.Code), fe.Message)
		}
		return Error(c, logger, err)
	}
}

func write(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Body{Error: code, Message: message})
}

func codeForStatus(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
