package reports

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/upstream/upstream/internal/platform/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "analyst", "viewer"))
	readGroup.GET("/reports/runs/:id/summary", h.Summary)
	readGroup.GET("/reports/runs/:id/export.csv", h.ExportCSV)
	readGroup.GET("/reports/runs/:id/export.pdf", h.ExportPDF)
}

func runID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func mapServiceErr(err error) error {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case errors.Is(err, ErrRunNotCompleted):
		return echo.NewHTTPError(http.StatusConflict, "run is not completed")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Summary(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	body, err := h.service.Summary(c.Request().Context(), id)
	if err != nil {
		return mapServiceErr(err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) ExportCSV(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.service.WriteCSV(c.Request().Context(), id, &buf); err != nil {
		return mapServiceErr(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="drift-run-%s.csv"`, id))
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func (h *Handler) ExportPDF(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.service.WritePDF(c.Request().Context(), id, &buf); err != nil {
		return mapServiceErr(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="drift-run-%s.pdf"`, id))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}
