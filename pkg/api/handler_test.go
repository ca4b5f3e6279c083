package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalkit/portalkit/pkg/api"
	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
	"github.com/portalkit/portalkit/storage/memory"
)

const testUserID = "user-123"

// stubProvider implements api.CheckoutProvider without touching any network.
type stubProvider struct {
	checkoutURL string
	checkoutErr error
	portalURL   string
	portalErr   error
	syncStatus  string
	syncErr     error

	webhookHits int
}

func (s *stubProvider) Name() string { return "stripe" }

func (s *stubProvider) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.webhookHits++
		w.WriteHeader(http.StatusOK)
	})
}

func (s *stubProvider) SyncUser(_ context.Context, _ string) (string, error) {
	return s.syncStatus, s.syncErr
}

func (s *stubProvider) CheckoutURL(_ context.Context, _, _, _, _ string) (string, error) {
	return s.checkoutURL, s.checkoutErr
}

func (s *stubProvider) PortalURL(_ context.Context, _, _ string) (string, error) {
	return s.portalURL, s.portalErr
}

func newTestHandler(t *testing.T, provider *stubProvider) (*portal.Manager, http.Handler) {
	t.Helper()

	manager, err := portal.NewManager(memory.New(), nil)
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Config{
		Manager:   manager,
		Provider:  provider,
		GetUserID: api.HeaderUserID("X-User-ID"),
	})
	require.NoError(t, err)

	return manager, handler.Routes()
}

func doRequest(router http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	manager, err := portal.NewManager(memory.New(), nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		config  api.Config
		wantErr bool
	}{
		{
			name: "valid",
			config: api.Config{
				Manager:   manager,
				Provider:  &stubProvider{},
				GetUserID: api.HeaderUserID("X-User-ID"),
			},
		},
		{
			name: "missing manager",
			config: api.Config{
				Provider:  &stubProvider{},
				GetUserID: api.HeaderUserID("X-User-ID"),
			},
			wantErr: true,
		},
		{
			name: "missing provider",
			config: api.Config{
				Manager:   manager,
				GetUserID: api.HeaderUserID("X-User-ID"),
			},
			wantErr: true,
		},
		{
			name: "missing extractor",
			config: api.Config{
				Manager:  manager,
				Provider: &stubProvider{},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := api.NewHandler(tc.config)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetSubscription(t *testing.T) {
	manager, router := newTestHandler(t, &stubProvider{})
	ctx := context.Background()

	require.NoError(t, manager.PutUser(ctx, &portal.User{ID: testUserID}))
	require.NoError(t, manager.ApplySubscriptionPatch(ctx, &portal.SubscriptionPatch{
		UserID:         testUserID,
		SubscriptionID: "sub_123",
		Status:         portal.SubscriptionStatusActive,
		OccurredAt:     time.Now().UTC(),
	}))

	rec := doRequest(router, http.MethodGet, "/billing/subscription", testUserID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp api.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sub_123", resp.SubscriptionID)
	assert.Equal(t, portal.SubscriptionStatusActive, resp.Status)
	assert.True(t, resp.Entitled)
}

func TestGetSubscription_NoSubscription(t *testing.T) {
	manager, router := newTestHandler(t, &stubProvider{})
	require.NoError(t, manager.PutUser(context.Background(), &portal.User{ID: testUserID}))

	rec := doRequest(router, http.MethodGet, "/billing/subscription", testUserID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Status)
	assert.False(t, resp.Entitled)
}

func TestGetSubscription_Unauthenticated(t *testing.T) {
	_, router := newTestHandler(t, &stubProvider{})

	rec := doRequest(router, http.MethodGet, "/billing/subscription", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSubscription_UnknownUser(t *testing.T) {
	_, router := newTestHandler(t, &stubProvider{})

	rec := doRequest(router, http.MethodGet, "/billing/subscription", "ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout(t *testing.T) {
	provider := &stubProvider{checkoutURL: "https://checkout.stripe.com/c/pay/cs_test"}
	manager, router := newTestHandler(t, provider)
	require.NoError(t, manager.PutUser(context.Background(), &portal.User{ID: testUserID}))

	body := `{"priceId":"price_123","successUrl":"https://example.com/ok","cancelUrl":"https://example.com/no"}`
	rec := doRequest(router, http.MethodPost, "/billing/checkout", testUserID, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.RedirectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, provider.checkoutURL, resp.URL)
}

func TestCheckout_MissingFields(t *testing.T) {
	_, router := newTestHandler(t, &stubProvider{})

	tests := []struct {
		name string
		body string
	}{
		{"missing price", `{"successUrl":"https://example.com/ok","cancelUrl":"https://example.com/no"}`},
		{"missing urls", `{"priceId":"price_123"}`},
		{"malformed json", `{"priceId":`},
		{"unknown field", `{"priceId":"p","successUrl":"s","cancelUrl":"c","bogus":true}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/billing/checkout", testUserID, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCheckout_ProviderError(t *testing.T) {
	provider := &stubProvider{checkoutErr: errors.New("stripe api unavailable")}
	_, router := newTestHandler(t, provider)

	body := `{"priceId":"price_123","successUrl":"https://example.com/ok","cancelUrl":"https://example.com/no"}`
	rec := doRequest(router, http.MethodPost, "/billing/checkout", testUserID, body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCheckout_UnknownUser(t *testing.T) {
	provider := &stubProvider{checkoutErr: fmt.Errorf("resolve customer: %w", portal.ErrUserNotFound)}
	_, router := newTestHandler(t, provider)

	body := `{"priceId":"price_123","successUrl":"https://example.com/ok","cancelUrl":"https://example.com/no"}`
	rec := doRequest(router, http.MethodPost, "/billing/checkout", "ghost", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortal(t *testing.T) {
	provider := &stubProvider{portalURL: "https://billing.stripe.com/session/test"}
	_, router := newTestHandler(t, provider)

	rec := doRequest(router, http.MethodPost, "/billing/portal", testUserID, `{"returnUrl":"https://example.com/account"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.RedirectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, provider.portalURL, resp.URL)
}

func TestPortal_NoLinkedCustomer(t *testing.T) {
	provider := &stubProvider{portalErr: fmt.Errorf("user %s: %w", testUserID, billing.ErrCustomerNotFound)}
	_, router := newTestHandler(t, provider)

	rec := doRequest(router, http.MethodPost, "/billing/portal", testUserID, `{"returnUrl":"https://example.com/account"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPortal_MissingReturnURL(t *testing.T) {
	_, router := newTestHandler(t, &stubProvider{})

	rec := doRequest(router, http.MethodPost, "/billing/portal", testUserID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync(t *testing.T) {
	provider := &stubProvider{syncStatus: portal.SubscriptionStatusActive}
	_, router := newTestHandler(t, provider)

	rec := doRequest(router, http.MethodPost, "/billing/sync", testUserID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, portal.SubscriptionStatusActive, resp.Status)
	assert.True(t, resp.Entitled)
}

func TestSync_NoSubscription(t *testing.T) {
	_, router := newTestHandler(t, &stubProvider{})

	rec := doRequest(router, http.MethodPost, "/billing/sync", testUserID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Status)
	assert.False(t, resp.Entitled)
}

func TestSync_Unauthenticated(t *testing.T) {
	_, router := newTestHandler(t, &stubProvider{})

	rec := doRequest(router, http.MethodPost, "/billing/sync", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookMount(t *testing.T) {
	provider := &stubProvider{}
	_, router := newTestHandler(t, provider)

	rec := doRequest(router, http.MethodPost, "/webhooks/stripe", "", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, provider.webhookHits)
}

func TestOnErrorCallback(t *testing.T) {
	manager, err := portal.NewManager(memory.New(), nil)
	require.NoError(t, err)

	var gotStatus int
	handler, err := api.NewHandler(api.Config{
		Manager:   manager,
		Provider:  &stubProvider{},
		GetUserID: api.HeaderUserID("X-User-ID"),
		OnError: func(w http.ResponseWriter, _ *http.Request, _ error, status int) {
			gotStatus = status
			w.WriteHeader(http.StatusTeapot)
		},
	})
	require.NoError(t, err)

	rec := doRequest(handler.Routes(), http.MethodGet, "/billing/subscription", "", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, gotStatus)
}
