package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cobaltlabs/aegis/internal/domain"
	"github.com/cobaltlabs/aegis/internal/usecase"
)

const principalContextKey = "principal"

// AuthMiddleware validates the bearer credential in the Authorization
// header. Signed access tokens and opaque session tokens both flow through
// the one verification entry point; the credential's shape picks the path.
func AuthMiddleware(u *usecase.AuthUsecase) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization header"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format"})
			}

			principal, err := u.Authenticate(c.Request().Context(), parts[1])
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired credential"})
			}

			c.Set(principalContextKey, principal)
			return next(c)
		}
	}
}

// CurrentPrincipal extracts the authenticated identity from the context.
func CurrentPrincipal(c echo.Context) *domain.Principal {
	principal, _ := c.Get(principalContextKey).(*domain.Principal)
	return principal
}

// RoleMiddleware restricts a route to a role; admins pass everywhere.
func RoleMiddleware(requiredRole string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal := CurrentPrincipal(c)
			if principal == nil || (principal.RoleName != requiredRole && principal.RoleName != "admin") {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied: insufficient permissions"})
			}
			return next(c)
		}
	}
}

// writeDomainError maps domain sentinels to HTTP responses. Unexpected
// failures stay opaque to the client.
func writeDomainError(c echo.Context, err error) error {
	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) {
		c.Response().Header().Set("Retry-After",
			strconv.FormatInt(int64(rateErr.RetryAfter.Seconds()), 10))
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": rateErr.Error()})
	}

	switch {
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrInvalidMFACode),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSessionExpired),
		errors.Is(err, domain.ErrAccountInactive):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrDuplicateEmail):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrResetTokenInvalid),
		errors.Is(err, domain.ErrResetTokenUsed),
		errors.Is(err, domain.ErrResetTokenExpired),
		errors.Is(err, domain.ErrMFANotEnabled),
		errors.Is(err, domain.ErrMFAAlreadyEnabled):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrNotificationFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
