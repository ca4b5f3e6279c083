// Package gin provides Gin middleware for subscription entitlement checks
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"
	"github.com/portalkit/portalkit/pkg/portal"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

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
	OnDenied func(c *gongin.Context, user *portal.User)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// UserKey is the Gin context key under which the resolved user is stored
const UserKey = "portal:user"

// Middleware creates a Gin middleware that requires an entitled subscription
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("portalkit/gin: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("portalkit/gin: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.PaymentRequiredStatusCode == 0 {
		cfg.PaymentRequiredStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		user, err := cfg.Manager.GetUser(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, portal.ErrUserNotFound) {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if user == nil || !allowed(cfg.AllowedStatuses, user) {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, user)
			} else {
				c.JSON(cfg.PaymentRequiredStatusCode, gongin.H{"error": "Payment Required"})
			}
			c.Abort()
			return
		}

		c.Set(UserKey, user)
		c.Next()
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
func UserFromContext(c *gongin.Context) (*portal.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*portal.User)
	return user, ok
}

// UserIDFromHeader returns an UserIDExtractor that gets user ID from a header
func UserIDFromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// UserIDFromContext returns an UserIDExtractor that gets user ID from the Gin
// context, as set by an upstream authentication middleware
func UserIDFromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if userID, ok := c.Get(key); ok {
			if s, ok := userID.(string); ok {
				return s
			}
		}
		return ""
	}
}
