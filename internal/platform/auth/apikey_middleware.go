package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// APIKeyMiddleware authenticates requests carrying an API key in X-API-Key or
// as a Bearer token with the up_k1_ prefix. Requests without one, including
// ordinary JWT bearers, pass through untouched so the JWT middleware can take
// over. Keys that carry scopes are checked against the requested resource and
// method before the handler runs.
func APIKeyMiddleware(manager *APIKeyManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := rawKeyFromRequest(c.Request())
			if raw == "" {
				return next(c)
			}

			key, err := manager.Validate(c.Request().Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidKey):
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
				case errors.Is(err, ErrKeyRevoked):
					return echo.NewHTTPError(http.StatusUnauthorized, "api key revoked")
				case errors.Is(err, ErrKeyExpired):
					return echo.NewHTTPError(http.StatusUnauthorized, "api key expired")
				default:
					return echo.NewHTTPError(http.StatusInternalServerError, "api key validation error")
				}
			}

			if len(key.Scopes) > 0 {
				if err := checkScopes(c.Request(), key.Scopes); err != nil {
					return err
				}
			}

			c.Set("api_key_id", key.ID.String())
			c.Set("jwt_tenant_id", key.TenantID)
			c.Set("scopes", key.Scopes)
			return next(c)
		}
	}
}

func rawKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") && strings.HasPrefix(token, apiKeyPrefix) {
		return token
	}
	return ""
}

// checkScopes matches the key's scopes against the resource segment of
// /api/v1 paths and the HTTP method. Paths outside /api/v1 are not checked.
func checkScopes(r *http.Request, scopes []string) error {
	resource := apiResource(r.URL.Path)
	if resource == "" {
		return nil
	}
	operation := "read"
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		operation = "write"
	}
	for _, s := range scopes {
		if scopeAllows(s, resource, operation) {
			return nil
		}
	}
	return echo.NewHTTPError(http.StatusForbidden,
		fmt.Sprintf("insufficient scope: requires %s:%s", resource, operation))
}

func apiResource(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return ""
	}
	resource, _, _ := strings.Cut(rest, "/")
	return resource
}

func scopeAllows(granted, resource, operation string) bool {
	res, op, ok := strings.Cut(granted, ":")
	if !ok {
		return false
	}
	return (res == "*" || res == resource) && (op == "*" || op == operation)
}
