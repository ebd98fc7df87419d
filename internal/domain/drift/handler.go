package drift

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/upstream/upstream/internal/platform/auth"
	"github.com/upstream/upstream/pkg/pagination"
)

// SubscriptionGate reports whether the requesting tenant may trigger drift
// computation. Billing provides the real implementation; inactive customers
// can still read existing runs and events.
type SubscriptionGate interface {
	ComputeAllowed(c echo.Context) (bool, error)
}

// AllowAll is a SubscriptionGate that never gates, used in development.
type AllowAll struct{}

func (AllowAll) ComputeAllowed(echo.Context) (bool, error) { return true, nil }

type Handler struct {
	engine *Engine
	runs   RunRepository
	events EventRepository
	gate   SubscriptionGate
	// onCompleted is invoked after a successful run, e.g. to turn events
	// into alerts.
	onCompleted func(c echo.Context, run *ReportRun)
}

func NewHandler(engine *Engine, runs RunRepository, events EventRepository, gate SubscriptionGate) *Handler {
	if gate == nil {
		gate = AllowAll{}
	}
	return &Handler{engine: engine, runs: runs, events: events, gate: gate}
}

// SetOnCompleted registers a callback fired after each completed run.
func (h *Handler) SetOnCompleted(fn func(c echo.Context, run *ReportRun)) {
	h.onCompleted = fn
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "analyst", "viewer"))
	readGroup.GET("/drift/runs", h.ListRuns)
	readGroup.GET("/drift/runs/:id", h.GetRun)
	readGroup.GET("/drift/runs/:id/events", h.ListRunEvents)

	writeGroup := api.Group("", auth.RequireRole("admin", "analyst"))
	writeGroup.POST("/drift/runs", h.TriggerRun)
}

// triggerRequest is the JSON body for POST /drift/runs. All fields optional.
type triggerRequest struct {
	AsOf          *time.Time `json:"asof,omitempty"`
	BaselineWeeks int        `json:"baseline_weeks,omitempty"`
	CurrentWeeks  int        `json:"current_weeks,omitempty"`
}

func (h *Handler) TriggerRun(c echo.Context) error {
	allowed, err := h.gate.ComputeAllowed(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !allowed {
		return echo.NewHTTPError(http.StatusPaymentRequired, "active subscription required to run drift computation")
	}

	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params := Params{
		BaselineWeeks: req.BaselineWeeks,
		CurrentWeeks:  req.CurrentWeeks,
	}
	if req.AsOf != nil {
		params.AsOf = *req.AsOf
	}

	run, err := h.engine.Run(c.Request().Context(), params)
	if err != nil {
		if run != nil {
			// Failed run is persisted with error_detail; return it.
			return c.JSON(http.StatusUnprocessableEntity, run)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if h.onCompleted != nil {
		h.onCompleted(c, run)
	}
	return c.JSON(http.StatusCreated, run)
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	run, err := h.runs.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.runs.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListRunEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	f := EventFilter{ReportRunID: &id}
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

	pg := pagination.FromContext(c)
	items, total, err := h.events.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
