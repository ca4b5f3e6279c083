// Package echo provides Echo middleware for subscription entitlement checks
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/portalkit/portalkit/pkg/portal"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the portal manager instance
	Manager *portal.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// AllowedStatuses restricts access to users whose subscription status
	// is in this list. If empty, any non-empty status passes.
	AllowedStatuses []string

	// PaymentRequiredStatusCode is the HTTP status code returned when the
	// user has no qualifying subscription
	// Default: 402 (Payment Required)
	PaymentRequiredStatusCode int

	// OnDenied is called when the user has no qualifying subscription.
	// The user may be nil when the user record does not exist yet.
	// If nil, returns PaymentRequiredStatusCode with a JSON body
	OnDenied func(c echo.Context, user *portal.User) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// UserKey is the Echo context key under which the resolved user is stored
const UserKey = "portal:user"

// Middleware creates an Echo middleware that requires an entitled subscription
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("portalkit/echo: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("portalkit/echo: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.PaymentRequiredStatusCode == 0 {
		cfg.PaymentRequiredStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			user, err := cfg.Manager.GetUser(c.Request().Context(), userID)
			if err != nil && !errors.Is(err, portal.ErrUserNotFound) {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if user == nil || !allowed(cfg.AllowedStatuses, user) {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, user)
				}
				return c.JSON(cfg.PaymentRequiredStatusCode, map[string]string{"error": "Payment Required"})
			}

			c.Set(UserKey, user)
			return next(c)
		}
	}
}

func allowed(statuses []string, user *portal.User) bool {
	if len(statuses) == 0 {
		return user.Entitled()
	}
	for _, s := range statuses {
		if user.SubscriptionStatus == s {
			return true
		}
	}
	return false
}

// UserFromContext returns the user stored by the middleware, if any
func UserFromContext(c echo.Context) (*portal.User, bool) {
	user, ok := c.Get(UserKey).(*portal.User)
	return user, ok
}

// UserIDFromHeader returns an UserIDExtractor that gets user ID from a header
func UserIDFromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
