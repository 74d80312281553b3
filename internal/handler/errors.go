package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/subx-ng/subx-core/internal/document"
	"github.com/subx-ng/subx-core/internal/service"
)

// respondError writes the JSON error for err.  Unknown errors are logged
// and reported as 500 without detail.
func respondError(c echo.Context, log *slog.Logger, err error) error {
	var inv *service.InventoryError
	if errors.As(err, &inv) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":         "insufficient_inventory",
			"message":       "requested sqm exceeds availability",
			"plot_id":       inv.PlotID,
			"requested_sqm": inv.Requested,
			"available_sqm": inv.Available,
		})
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, echo.Map{"error": he.Message})
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError {
		if log == nil {
			log = slog.Default()
		}
		log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
		return c.JSON(status, echo.Map{"error": code})
	}
	return c.JSON(status, echo.Map{"error": code, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, service.ErrPaymentUnavailable):
		return http.StatusServiceUnavailable, "payment_unavailable"
	case errors.Is(err, service.ErrPlotNotFound),
		errors.Is(err, service.ErrPurchaseNotFound),
		errors.Is(err, service.ErrRecordNotFound),
		errors.Is(err, service.ErrFlagNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrMissingIdentity), errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrRecordNotActive), errors.Is(err, service.ErrFlagResolved):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrInvalidOutcome),
		errors.Is(err, service.ErrMalformedWebhook),
		errors.Is(err, document.ErrUnknownKind):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
