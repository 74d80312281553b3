package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/subx-ng/subx-core/internal/document"
	"github.com/subx-ng/subx-core/internal/middleware"
	"github.com/subx-ng/subx-core/internal/service"
)

// PortfolioHandler serves the caller's holdings and their documents.
type PortfolioHandler struct {
	Portfolio *service.PortfolioService
	Documents *document.Library
	Log       *slog.Logger
}

// Get returns the caller's portfolio.
func (h *PortfolioHandler) Get(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return respondError(c, h.Log, service.ErrMissingIdentity)
	}
	p, err := h.Portfolio.Portfolio(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Document streams the receipt, deed or certificate of one record.
func (h *PortfolioHandler) Document(c echo.Context) error {
	id, ok := middleware.Identity(c)
	if !ok {
		return respondError(c, h.Log, service.ErrMissingIdentity)
	}
	kind, err := document.ParseKind(c.Param("kind"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ctx := c.Request().Context()
	in, err := h.Portfolio.RecordDocument(ctx, id, c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	doc, err := h.Documents.Get(ctx, kind, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	return c.Blob(http.StatusOK, doc.ContentType, doc.Body)
}
