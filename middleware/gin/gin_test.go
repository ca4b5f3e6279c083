package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/portalkit/portalkit/pkg/portal"
	"github.com/portalkit/portalkit/storage/memory"
)

func setupTestManager(t *testing.T) *portal.Manager {
	t.Helper()

	manager, err := portal.NewManager(memory.New(), nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager
}

func putUser(t *testing.T, manager *portal.Manager, userID, status string) {
	t.Helper()

	ctx := context.Background()
	if err := manager.PutUser(ctx, &portal.User{ID: userID}); err != nil {
		t.Fatalf("Failed to put user: %v", err)
	}
	if status == "" {
		return
	}
	err := manager.ApplySubscriptionPatch(ctx, &portal.SubscriptionPatch{
		UserID:         userID,
		SubscriptionID: "sub_" + userID,
		Status:         status,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to apply patch: %v", err)
	}
}

func newTestRouter(cfg Config) *gongin.Engine {
	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.GET("/dashboard", Middleware(cfg), func(c *gongin.Context) {
		user, ok := UserFromContext(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gongin.H{"error": "user missing from context"})
			return
		}
		c.JSON(http.StatusOK, gongin.H{"userId": user.ID, "status": user.SubscriptionStatus})
	})
	return router
}

func doRequest(router *gongin.Engine, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_EntitledUserPasses(t *testing.T) {
	manager := setupTestManager(t)
	putUser(t, manager, "user1", portal.SubscriptionStatusActive)

	router := newTestRouter(Config{
		Manager:   manager,
		GetUserID: UserIDFromHeader("X-User-ID"),
	})

	rec := doRequest(router, "user1")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMiddleware_NoSubscriptionDenied(t *testing.T) {
	manager := setupTestManager(t)
	putUser(t, manager, "user1", "")

	router := newTestRouter(Config{
		Manager:   manager,
		GetUserID: UserIDFromHeader("X-User-ID"),
	})

	rec := doRequest(router, "user1")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
}

func TestMiddleware_UnknownUserDenied(t *testing.T) {
	manager := setupTestManager(t)

	router := newTestRouter(Config{
		Manager:   manager,
		GetUserID: UserIDFromHeader("X-User-ID"),
	})

	rec := doRequest(router, "ghost")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
}

func TestMiddleware_MissingUserIDUnauthorized(t *testing.T) {
	manager := setupTestManager(t)

	router := newTestRouter(Config{
		Manager:   manager,
		GetUserID: UserIDFromHeader("X-User-ID"),
	})

	rec := doRequest(router, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_AllowedStatuses(t *testing.T) {
	manager := setupTestManager(t)
	putUser(t, manager, "trial-user", portal.SubscriptionStatusTrialing)
	putUser(t, manager, "overdue-user", portal.SubscriptionStatusPastDue)

	router := newTestRouter(Config{
		Manager:         manager,
		GetUserID:       UserIDFromHeader("X-User-ID"),
		AllowedStatuses: []string{portal.SubscriptionStatusActive, portal.SubscriptionStatusTrialing},
	})

	if rec := doRequest(router, "trial-user"); rec.Code != http.StatusOK {
		t.Errorf("Expected trialing user to pass, got %d", rec.Code)
	}
	if rec := doRequest(router, "overdue-user"); rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected past_due user to be denied, got %d", rec.Code)
	}
}

func TestMiddleware_CustomPaymentRequiredStatusCode(t *testing.T) {
	manager := setupTestManager(t)
	putUser(t, manager, "user1", "")

	router := newTestRouter(Config{
		Manager:                   manager,
		GetUserID:                 UserIDFromHeader("X-User-ID"),
		PaymentRequiredStatusCode: http.StatusForbidden,
	})

	rec := doRequest(router, "user1")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestMiddleware_OnDeniedCallback(t *testing.T) {
	manager := setupTestManager(t)
	putUser(t, manager, "user1", "")

	var deniedUser *portal.User
	router := newTestRouter(Config{
		Manager:   manager,
		GetUserID: UserIDFromHeader("X-User-ID"),
		OnDenied: func(c *gongin.Context, user *portal.User) {
			deniedUser = user
			c.Redirect(http.StatusSeeOther, "/upgrade")
		},
	})

	rec := doRequest(router, "user1")
	if rec.Code != http.StatusSeeOther {
		t.Errorf("Expected 303, got %d", rec.Code)
	}
	if deniedUser == nil || deniedUser.ID != "user1" {
		t.Errorf("Expected denied user to be passed to callback, got %+v", deniedUser)
	}
}

func TestMiddleware_UserIDFromContext(t *testing.T) {
	manager := setupTestManager(t)
	putUser(t, manager, "user1", portal.SubscriptionStatusActive)

	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.Use(func(c *gongin.Context) {
		c.Set("authUserID", "user1")
		c.Next()
	})
	router.GET("/dashboard", Middleware(Config{
		Manager:   manager,
		GetUserID: UserIDFromContext("authUserID"),
	}), func(c *gongin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
}

func TestMiddleware_PanicsWithoutManager(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing Manager")
		}
	}()
	Middleware(Config{GetUserID: UserIDFromHeader("X-User-ID")})
}
