package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/subx-ng/subx-core/internal/model"
	"github.com/subx-ng/subx-core/internal/service"
)

// AdminHandler exposes operator actions: reconciliation review, counter
// repair, refunds and identity backfill.
type AdminHandler struct {
	Inventory *service.InventoryService
	Portfolio *service.PortfolioService
	Purchases *service.PurchaseService
	Log       *slog.Logger
}

// Flags lists reconciliation flags, optionally filtered by ?status=.
func (h *AdminHandler) Flags(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", model.FlagOpen, model.FlagResolved:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be OPEN or RESOLVED"})
	}
	flags, err := h.Purchases.Flags(c.Request().Context(), status)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": flags})
}

type resolveRequest struct {
	Note string `json:"note" validate:"required,max=1000"`
}

// ResolveFlag closes a flag with a note.
func (h *AdminHandler) ResolveFlag(c echo.Context) error {
	var req resolveRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	f, err := h.Purchases.ResolveFlag(c.Request().Context(), c.Param("id"), req.Note)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, f)
}

// ReconcilePlot rebuilds a plot's cached counter from its records.
func (h *AdminHandler) ReconcilePlot(c echo.Context) error {
	a, err := h.Inventory.Reconcile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, a)
}

// CancelRecord cancels an active ownership record and returns its sqm.
func (h *AdminHandler) CancelRecord(c echo.Context) error {
	rec, err := h.Purchases.CancelRecord(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, rec)
}

type backfillRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
}

// BackfillIdentity fills the missing key on a user's records.
func (h *AdminHandler) BackfillIdentity(c echo.Context) error {
	var req backfillRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	n, err := h.Portfolio.BackfillIdentity(c.Request().Context(), model.UserIdentity{ID: req.UserID, Email: req.Email})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": n})
}
