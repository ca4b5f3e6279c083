// Package http provides HTTP middleware for subscription entitlement checks
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/portalkit/portalkit/pkg/portal"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager is the portal manager instance
	Manager *portal.Manager

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// AllowedStatuses restricts access to users whose subscription status
	// is in this list. If empty, any non-empty status passes.
	AllowedStatuses []string

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnDenied is called when the user has no qualifying subscription
	// If nil, returns 402 Payment Required
	OnDenied func(w http.ResponseWriter, r *http.Request, user *portal.User)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that requires an entitled subscription.
// Users that cannot be found are treated the same as users without a
// subscription, so provisioning lag does not surface as a server error.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			user, err := config.Manager.GetUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, portal.ErrUserNotFound) {
					deny(config, w, r, nil)
					return
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !allowed(config.AllowedStatuses, user) {
				deny(config, w, r, user)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), user)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that requires an entitled subscription (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
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

func deny(config Config, w http.ResponseWriter, r *http.Request, user *portal.User) {
	if config.OnDenied != nil {
		config.OnDenied(w, r, user)
		return
	}
	http.Error(w, "Payment Required", http.StatusPaymentRequired)
}

// Common extractors for convenience

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "portal:userID"

	userKey ContextKey = "portal:user"
)

// NewContext returns a context carrying the resolved user
func NewContext(ctx context.Context, user *portal.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user stored by the middleware, if any
func UserFromContext(ctx context.Context) (*portal.User, bool) {
	user, ok := ctx.Value(userKey).(*portal.User)
	return user, ok
}

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
