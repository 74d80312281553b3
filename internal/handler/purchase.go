package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/middleware"
	"github.com/subx-ng/subx-core/internal/service"
)

// PurchaseHandler runs the buyer side of the purchase flow.
type PurchaseHandler struct {
	Purchases *service.PurchaseService
	Log       *slog.Logger
}

// A missing or sub-1 sqm is answered by the service with 409.
type initiateRequest struct {
	PlotID string          `json:"plot_id" validate:"required"`
	Sqm    decimal.Decimal `json:"sqm"`
}

// Initiate reserves sqm and returns the checkout URL.
func (h *PurchaseHandler) Initiate(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return respondError(c, h.Log, service.ErrMissingIdentity)
	}
	var req initiateRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	res, err := h.Purchases.Initiate(c.Request().Context(), id, req.PlotID, req.Sqm)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Get returns one of the caller's purchases.
func (h *PurchaseHandler) Get(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return respondError(c, h.Log, service.ErrMissingIdentity)
	}
	p, err := h.Purchases.Get(c.Request().Context(), id, c.Param("reference"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

type callbackRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=success failed cancelled"`
}

// Callback applies the outcome the client saw at checkout.  A reported
// success is verified with the provider before anything is written.
func (h *PurchaseHandler) Callback(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return respondError(c, h.Log, service.ErrMissingIdentity)
	}
	var req callbackRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	p, err := h.Purchases.VerifyAndComplete(c.Request().Context(), id, c.Param("reference"), service.Outcome(req.Outcome))
	switch {
	case err == nil, errors.Is(err, service.ErrPaymentCancelled):
		return c.JSON(http.StatusOK, echo.Map{"purchase": p})
	case errors.Is(err, service.ErrPaymentDeclined):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment_declined", "purchase": p})
	default:
		return respondError(c, h.Log, err)
	}
}
