package webhook

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/upstream/upstream/internal/platform/db"
	"github.com/upstream/upstream/pkg/pagination"
)

// Handler exposes the endpoint registry, mounted under /webhook-endpoints.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/deliveries", h.Deliveries)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// endpointResponse hides the signing secret on reads. The secret is returned
// exactly once, in the Register response.
type endpointResponse struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toEndpointResponse(ep *Endpoint) *endpointResponse {
	return &endpointResponse{
		ID:        ep.ID,
		URL:       ep.URL,
		Events:    ep.Events,
		Active:    ep.Active,
		CreatedAt: ep.CreatedAt,
	}
}

// Register handles POST /webhook-endpoints.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	ep, err := h.manager.Register(ctx, db.TenantFromContext(ctx), req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

// List handles GET /webhook-endpoints.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	endpoints, err := h.manager.Endpoints(ctx, db.TenantFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]*endpointResponse, len(endpoints))
	for i, ep := range endpoints {
		out[i] = toEndpointResponse(ep)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, len(out), len(out), 0))
}

// Get handles GET /webhook-endpoints/:id.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	ep, err := h.manager.Endpoint(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toEndpointResponse(ep))
}

// Delete handles DELETE /webhook-endpoints/:id.
func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	if err := h.manager.Remove(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Deliveries handles GET /webhook-endpoints/:id/deliveries.
func (h *Handler) Deliveries(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	p := pagination.FromContext(c)
	logs, total, err := h.manager.DeliveryLog(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, p.Limit, p.Offset))
}
