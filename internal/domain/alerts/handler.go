package alerts

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/upstream/upstream/internal/platform/auth"
	"github.com/upstream/upstream/pkg/pagination"
)

type Handler struct {
	processor *Processor
	alerts    Repository
}

func NewHandler(processor *Processor, alerts Repository) *Handler {
	return &Handler{processor: processor, alerts: alerts}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "analyst", "viewer"))
	readGroup.GET("/alerts", h.List)
	readGroup.GET("/alerts/:id", h.Get)

	writeGroup := api.Group("", auth.RequireRole("admin", "analyst"))
	writeGroup.POST("/alerts/:id/ack", h.Acknowledge)
	writeGroup.POST("/alerts/:id/resolve", h.Resolve)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	if v := c.QueryParam("status"); v != "" {
		switch v {
		case StatusOpen, StatusAcknowledged, StatusResolved, StatusSuppressed:
			f.Status = &v
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	if v := c.QueryParam("payer_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
		}
		f.PayerID = &pid
	}
	if v := c.QueryParam("metric"); v != "" {
		f.Metric = &v
	}
	if v := c.QueryParam("run_id"); v != "" {
		rid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid run_id")
		}
		f.ReportRunID = &rid
	}

	pg := pagination.FromContext(c)
	items, total, err := h.alerts.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.alerts.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	return h.transition(c, h.processor.Acknowledge)
}

func (h *Handler) Resolve(c echo.Context) error {
	return h.transition(c, h.processor.Resolve)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID, userID string) (*Alert, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := fn(ctx, id, auth.UserIDFromContext(ctx))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
