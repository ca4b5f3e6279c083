// Package fiber provides Fiber middleware for subscription entitlement checks
package fiber

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/portalkit/portalkit/pkg/portal"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnDenied func(c *fiber.Ctx, user *portal.User) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// UserKey is the Fiber locals key under which the resolved user is stored
const UserKey = "portal:user"

// Middleware creates a Fiber middleware that requires an entitled subscription
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("portalkit/fiber: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("portalkit/fiber: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.PaymentRequiredStatusCode == 0 {
		cfg.PaymentRequiredStatusCode = http.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		user, err := cfg.Manager.GetUser(c.UserContext(), userID)
		if err != nil && !errors.Is(err, portal.ErrUserNotFound) {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if user == nil || !allowed(cfg.AllowedStatuses, user) {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, user)
			}
			return c.Status(cfg.PaymentRequiredStatusCode).JSON(fiber.Map{"error": "Payment Required"})
		}

		c.Locals(UserKey, user)
		return c.Next()
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
func UserFromContext(c *fiber.Ctx) (*portal.User, bool) {
	user, ok := c.Locals(UserKey).(*portal.User)
	return user, ok
}

// UserIDFromHeader returns an UserIDExtractor that gets user ID from a header
func UserIDFromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
