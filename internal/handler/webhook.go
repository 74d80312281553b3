package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/subx-ng/subx-core/internal/payment"
	"github.com/subx-ng/subx-core/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives provider notifications.  Any non-2xx answer
// makes the provider retry, so only transient failures return one.
type WebhookHandler struct {
	Purchases *service.PurchaseService
	Log       *slog.Logger
}

// Paystack handles POST /v1/payments/paystack/webhook.
func (h *WebhookHandler) Paystack(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	err = h.Purchases.HandleWebhook(c.Request().Context(), body, c.Request().Header.Get(payment.SignatureHeader))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	case errors.Is(err, service.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	case errors.Is(err, service.ErrMalformedWebhook):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed event"})
	case errors.Is(err, service.ErrPurchaseNotFound):
		h.log().Warn("webhook for unknown purchase", "err", err)
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	default:
		return respondError(c, h.Log, err)
	}
}

func (h *WebhookHandler) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
