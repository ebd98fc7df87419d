package ingestion

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/upstream/upstream/internal/platform/auth"
	"github.com/upstream/upstream/internal/platform/webhook"
	"github.com/upstream/upstream/pkg/pagination"
)

// maxUploadBytes caps CSV upload size at 50 MB.
const maxUploadBytes = 50 << 20

type Handler struct {
	service *Service
	// claimsSecret verifies POST /webhooks/claims signatures. Empty disables
	// verification, for development only.
	claimsSecret string
}

func NewHandler(service *Service, claimsSecret string) *Handler {
	return &Handler{service: service, claimsSecret: claimsSecret}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "analyst", "viewer"))
	readGroup.GET("/uploads", h.ListUploads)
	readGroup.GET("/uploads/:id", h.GetUpload)

	writeGroup := api.Group("", auth.RequireRole("admin", "analyst"))
	writeGroup.POST("/uploads", h.UploadCSV)
}

// RegisterWebhookRoutes mounts the inbound claims webhook. It is
// unauthenticated; the HMAC signature is the credential.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.POST("/webhooks/claims", h.ReceiveClaim)
}

func (h *Handler) UploadCSV(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	if fh.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds upload limit")
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	upload, err := h.service.ProcessCSV(c.Request().Context(), fh.Filename, src)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if upload.Status == StatusFailed {
		return c.JSON(http.StatusUnprocessableEntity, upload)
	}
	return c.JSON(http.StatusCreated, upload)
}

func (h *Handler) GetUpload(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	upload, err := h.service.GetUpload(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "upload not found")
	}
	return c.JSON(http.StatusOK, upload)
}

func (h *Handler) ListUploads(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.service.ListUploads(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ReceiveClaim(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	if h.claimsSecret != "" {
		sig := c.Request().Header.Get("X-Webhook-Signature")
		if !webhook.VerifySignature(body, h.claimsSecret, trimSignaturePrefix(sig)) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	var wc WebhookClaim
	if err := json.Unmarshal(body, &wc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}

	claim, err := h.service.IngestWebhookClaim(c.Request().Context(), &wc)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, claim)
}

func trimSignaturePrefix(sig string) string {
	const prefix = "sha256="
	if len(sig) > len(prefix) && sig[:len(prefix)] == prefix {
		return sig[len(prefix):]
	}
	return sig
}
