package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/upstream/upstream/internal/platform/auth"
)

type Handler struct {
	service *Service
	// stripeWebhookSecret verifies POST /webhooks/stripe. Empty disables
	// verification, for development only.
	stripeWebhookSecret string
}

func NewHandler(service *Service, stripeWebhookSecret string) *Handler {
	return &Handler{service: service, stripeWebhookSecret: stripeWebhookSecret}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/billing/subscriptions", h.Subscribe)
	admin.GET("/billing/subscriptions/:customer_id", h.GetSubscription)
}

// RegisterWebhookRoutes mounts the Stripe webhook receiver. Unauthenticated;
// the Stripe signature is the credential.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.POST("/webhooks/stripe", h.ReceiveStripeEvent)
}

type subscribeRequest struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Plan       string    `json:"plan"`
}

func (h *Handler) Subscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CustomerID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "customer_id is required")
	}

	sub, err := h.service.Subscribe(c.Request().Context(), req.CustomerID, req.Plan)
	if errors.Is(err, ErrAlreadySubscribed) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) GetSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("customer_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid customer_id")
	}
	sub, err := h.service.GetSubscription(c.Request().Context(), id)
	if errors.Is(err, ErrNoSubscription) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) ReceiveStripeEvent(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	var event stripe.Event
	if h.stripeWebhookSecret != "" {
		sig := c.Request().Header.Get("Stripe-Signature")
		event, err = stripewebhook.ConstructEvent(body, sig, h.stripeWebhookSecret)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	} else if err := json.Unmarshal(body, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	if err := h.service.HandleStripeEvent(c.Request().Context(), event); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}
