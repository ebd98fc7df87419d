package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/upstream/upstream/pkg/pagination"
)

// APIKeyHandler manages keys under /api-keys. Routes are mounted behind the
// admin role.
type APIKeyHandler struct {
	manager *APIKeyManager
}

func NewAPIKeyHandler(manager *APIKeyManager) *APIKeyHandler {
	return &APIKeyHandler{manager: manager}
}

func (h *APIKeyHandler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.CreateKey)
	g.GET("", h.ListKeys)
	g.GET("/:id", h.GetKey)
	g.DELETE("/:id", h.RevokeKey)
	g.POST("/:id/rotate", h.RotateKey)
}

type createKeyRequest struct {
	Name      string     `json:"name"`
	TenantID  string     `json:"tenant_id"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// issuedKeyResponse carries the raw key. It is returned once, on creation and
// rotation; the key is not retrievable afterwards.
type issuedKeyResponse struct {
	Key     *APIKey `json:"key"`
	RawKey  string  `json:"raw_key"`
	Warning string  `json:"warning"`
}

const rawKeyWarning = "Store this key securely. It will not be shown again."

// CreateKey handles POST /api-keys.
func (h *APIKeyHandler) CreateKey(c echo.Context) error {
	var req createKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	key, raw, err := h.manager.Generate(c.Request().Context(), req.Name, req.TenantID, req.Scopes, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, ErrInvalidScope) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create api key")
	}
	return c.JSON(http.StatusCreated, &issuedKeyResponse{Key: key, RawKey: raw, Warning: rawKeyWarning})
}

// ListKeys handles GET /api-keys.
func (h *APIKeyHandler) ListKeys(c echo.Context) error {
	p := pagination.FromContext(c)
	keys, total, err := h.manager.List(c.Request().Context(), c.QueryParam("tenant_id"), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list api keys")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(keys, total, p.Limit, p.Offset))
}

// GetKey handles GET /api-keys/:id.
func (h *APIKeyHandler) GetKey(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key id")
	}
	key, err := h.manager.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to retrieve api key")
	}
	return c.JSON(http.StatusOK, key)
}

// RevokeKey handles DELETE /api-keys/:id.
func (h *APIKeyHandler) RevokeKey(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key id")
	}
	if err := h.manager.Revoke(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke api key")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

// RotateKey handles POST /api-keys/:id/rotate.
func (h *APIKeyHandler) RotateKey(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key id")
	}
	key, raw, err := h.manager.Rotate(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to rotate api key")
	}
	return c.JSON(http.StatusOK, &issuedKeyResponse{Key: key, RawKey: raw, Warning: rawKeyWarning})
}
