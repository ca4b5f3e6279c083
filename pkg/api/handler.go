// Package api provides the HTTP surface for portalkit billing: the webhook
// ingress mount plus authenticated endpoints for subscription status,
// checkout, the customer portal and manual sync.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
)

const maxRequestBody = 64 * 1024

// Handler provides the billing HTTP endpoints
type Handler struct {
	config Config
}

// Routes returns a chi router with all billing endpoints mounted:
//
//	POST /webhooks/{provider}     (unauthenticated; signature-verified)
//	GET  /billing/subscription
//	POST /billing/checkout
//	POST /billing/portal
//	POST /billing/sync
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Method(http.MethodPost, "/webhooks/"+h.config.Provider.Name(), h.config.Provider.WebhookHandler())

	r.Get("/billing/subscription", h.GetSubscription)
	r.Post("/billing/checkout", h.Checkout)
	r.Post("/billing/portal", h.Portal)
	r.Post("/billing/sync", h.Sync)

	return r
}

// GetSubscription returns the user's current subscription standing.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	resp := SubscriptionResponse{
		SubscriptionID: user.SubscriptionID,
		Status:         user.SubscriptionStatus,
		Entitled:       user.Entitled(),
	}
	_ = writeJSON(w, http.StatusOK, resp)
}

// Checkout creates a provider checkout session for the requested price and
// returns its URL.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user not authenticated"), http.StatusUnauthorized)
		return
	}

	var req CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	if req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		h.handleError(w, r, fmt.Errorf("priceId, successUrl and cancelUrl are required"), http.StatusBadRequest)
		return
	}

	url, err := h.config.Provider.CheckoutURL(r.Context(), userID, req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.handleError(w, r, err, statusForError(err))
		return
	}
	_ = writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// Portal creates a provider customer-portal session and returns its URL.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user not authenticated"), http.StatusUnauthorized)
		return
	}

	var req PortalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	if req.ReturnURL == "" {
		h.handleError(w, r, fmt.Errorf("returnUrl is required"), http.StatusBadRequest)
		return
	}

	url, err := h.config.Provider.PortalURL(r.Context(), userID, req.ReturnURL)
	if err != nil {
		h.handleError(w, r, err, statusForError(err))
		return
	}
	_ = writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// Sync forces a reconciliation of the user's subscription state from the
// provider and returns the result.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user not authenticated"), http.StatusUnauthorized)
		return
	}

	status, err := h.config.Provider.SyncUser(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err, statusForError(err))
		return
	}
	_ = writeJSON(w, http.StatusOK, SyncResponse{Status: status, Entitled: portal.EntitledStatus(status)})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*portal.User, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user not authenticated"), http.StatusUnauthorized)
		return nil, false
	}

	user, err := h.config.Manager.GetUser(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err, statusForError(err))
		return nil, false
	}
	return user, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, status)
		return
	}
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("billing api error",
			portal.Field{Key: "path", Value: r.URL.Path},
			portal.Field{Key: "error", Value: err.Error()},
		)
	}
	_ = writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, portal.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrCustomerNotFound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
