package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/subx-ng/subx-core/internal/service"
)

// PlotHandler serves public plot availability.  Availability is computed
// on every request and never served from the response cache.
type PlotHandler struct {
	Inventory *service.InventoryService
	Log       *slog.Logger
}

// List returns the availability of every known plot.
func (h *PlotHandler) List(c echo.Context) error {
	items, err := h.Inventory.List(c.Request().Context())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Availability returns one plot.  The id may be the storage id, the
// display number or the display name.
func (h *PlotHandler) Availability(c echo.Context) error {
	a, err := h.Inventory.AvailableSqm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, a)
}

type catalogItem struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Location    string          `json:"location"`
	TotalSize   decimal.Decimal `json:"total_size"`
	PricePerSqm decimal.Decimal `json:"price_per_sqm"`
	Status      string          `json:"status"`
}

// Catalog returns static plot attributes without inventory figures, so it
// is safe to cache.
func (h *PlotHandler) Catalog(c echo.Context) error {
	plots, err := h.Inventory.Catalog(c.Request().Context())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]catalogItem, 0, len(plots))
	for _, p := range plots {
		out = append(out, catalogItem{
			ID: p.ID, DisplayName: p.DisplayName, Location: p.Location,
			TotalSize: p.TotalSize, PricePerSqm: p.PricePerSqm, Status: p.Status,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}
