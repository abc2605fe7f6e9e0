package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arcoportus/portal/middleware"
	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/services"
	"github.com/arcoportus/portal/services/auth"
	"github.com/arcoportus/portal/services/identity"
	"github.com/arcoportus/portal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockAuthGateway is a mock implementation of AuthGateway
type MockAuthGateway struct {
	mock.Mock
}

func (m *MockAuthGateway) Login(ctx context.Context, email, password string, meta auth.RequestMeta) (*auth.LoginResult, error) {
	args := m.Called(ctx, email, password, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.LoginResult), args.Error(1)
}

func (m *MockAuthGateway) Refresh(ctx context.Context, token string) (*auth.RefreshResult, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.RefreshResult), args.Error(1)
}

func (m *MockAuthGateway) ForceChangePassword(ctx context.Context, claims *session.Claims, newPassword string) error {
	return m.Called(ctx, claims, newPassword).Error(0)
}

func (m *MockAuthGateway) ForgotPassword(ctx context.Context, email string) {
	m.Called(ctx, email)
}

func (m *MockAuthGateway) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func (m *MockAuthGateway) Logout(ctx context.Context, claims *session.Claims) {
	m.Called(ctx, claims)
}

func sessionClaims() *session.Claims {
	return &session.Claims{
		SubjectID:   "user-1",
		DisplayName: "Maria Souza",
		Tenant:      session.Tenant{ID: "tenant-1", Name: "Porto Central"},
		Role:        "ADMIN",
		Permissions: []string{"VIEW:AUDIT"},
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthHandler_HandleLogin(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful login", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		handler := NewAuthHandler(gateway, logger)

		expires := time.Date(2026, 4, 10, 21, 0, 0, 0, time.UTC)
		gateway.On("Login", mock.Anything, "maria@porto.example", "secret", auth.RequestMeta{IP: "192.0.2.1", UserAgent: "test-agent"}).
			Return(&auth.LoginResult{
				Token:     "signed-token",
				ExpiresAt: expires,
				User:      models.UserProfile{ID: "user-1", Name: "Maria Souza", Role: "ADMIN", Permissions: []string{}},
			}, nil)

		req := jsonRequest(http.MethodPost, "/auth/login", `{"email":"maria@porto.example","password":"secret"}`)
		req.Header.Set("User-Agent", "test-agent")
		w := httptest.NewRecorder()

		handler.HandleLogin(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "signed-token", response["token"])
		assert.Equal(t, "2026-04-10T21:00:00Z", response["expiresAt"])
		user := response["user"].(map[string]interface{})
		assert.Equal(t, "user-1", user["id"])
		assert.NotContains(t, user, "password")
		gateway.AssertExpectations(t)
	})

	t.Run("invalid body", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		handler := NewAuthHandler(gateway, logger)

		w := httptest.NewRecorder()
		handler.HandleLogin(w, jsonRequest(http.MethodPost, "/auth/login", `{not json`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		gateway.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("validation failure", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		handler := NewAuthHandler(gateway, logger)

		w := httptest.NewRecorder()
		handler.HandleLogin(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"maria"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "email must be a valid email")
	})

	t.Run("provider throttling passes through", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		handler := NewAuthHandler(gateway, logger)
		body := `{"statusCode":429,"message":"Muitas tentativas"}`
		gateway.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &identity.ProviderError{StatusCode: http.StatusTooManyRequests, Body: []byte(body)})

		w := httptest.NewRecorder()
		handler.HandleLogin(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"maria@porto.example","password":"wrong"}`))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, body, w.Body.String())
	})

	t.Run("bad credentials", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		handler := NewAuthHandler(gateway, logger)
		gateway.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, services.ErrInvalidCredentials)

		w := httptest.NewRecorder()
		handler.HandleLogin(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"ghost@porto.example","password":"wrong"}`))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid email or password")
	})

	t.Run("no entitlement", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		handler := NewAuthHandler(gateway, logger)
		gateway.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, services.ErrNoServiceEntitlement)

		w := httptest.NewRecorder()
		handler.HandleLogin(w, jsonRequest(http.MethodPost, "/auth/login", `{"email":"maria@porto.example","password":"secret"}`))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "no_service_entitlement")
	})
}

func TestAuthHandler_HandleRefresh(t *testing.T) {
	logger := zap.NewNop()

	t.Run("missing bearer token", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		w := httptest.NewRecorder()

		NewAuthHandler(gateway, logger).HandleRefresh(w, httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		gateway.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})

	tests := []struct {
		name   string
		result *auth.RefreshResult
		err    error
		want   int
	}{
		{"renewed", &auth.RefreshResult{Token: "new-token"}, nil, http.StatusOK},
		{"invalid", nil, services.ErrInvalidToken, http.StatusUnauthorized},
		{"revoked", nil, services.ErrAccessRevoked, http.StatusForbidden},
		{"provider down", nil, services.ErrRevalidationFailed, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := new(MockAuthGateway)
			gateway.On("Refresh", mock.Anything, "old-token").Return(tt.result, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil)
			req.Header.Set("Authorization", "Bearer old-token")
			w := httptest.NewRecorder()
			NewAuthHandler(gateway, logger).HandleRefresh(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.result != nil {
				assert.Contains(t, w.Body.String(), "new-token")
			}
		})
	}
}

func TestAuthHandler_HandleForceChangePassword(t *testing.T) {
	logger := zap.NewNop()
	claims := sessionClaims()

	t.Run("success", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		gateway.On("ForceChangePassword", mock.Anything, claims, "N0va-Senha!").Return(nil)

		req := jsonRequest(http.MethodPatch, "/auth/force-change-password", `{"newPassword":"N0va-Senha!"}`)
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		NewAuthHandler(gateway, logger).HandleForceChangePassword(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("short password", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		req := jsonRequest(http.MethodPatch, "/auth/force-change-password", `{"newPassword":"123"}`)
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		NewAuthHandler(gateway, logger).HandleForceChangePassword(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewAuthHandler(new(MockAuthGateway), logger).HandleForceChangePassword(w,
			jsonRequest(http.MethodPatch, "/auth/force-change-password", `{"newPassword":"N0va-Senha!"}`))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthHandler_HandleForgotPassword(t *testing.T) {
	gateway := new(MockAuthGateway)
	gateway.On("ForgotPassword", mock.Anything, "ghost@porto.example").Return()

	w := httptest.NewRecorder()
	NewAuthHandler(gateway, zap.NewNop()).HandleForgotPassword(w,
		jsonRequest(http.MethodPost, "/auth/forgot-password", `{"email":"ghost@porto.example"}`))

	assert.Equal(t, http.StatusNoContent, w.Code)
	gateway.AssertExpectations(t)
}

func TestAuthHandler_HandleResetPassword(t *testing.T) {
	logger := zap.NewNop()

	t.Run("success", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		gateway.On("ResetPassword", mock.Anything, "reset-token", "N0va-Senha!").Return(nil)

		w := httptest.NewRecorder()
		NewAuthHandler(gateway, logger).HandleResetPassword(w,
			jsonRequest(http.MethodPost, "/auth/reset-password", `{"token":"reset-token","newPassword":"N0va-Senha!"}`))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("expired link", func(t *testing.T) {
		gateway := new(MockAuthGateway)
		gateway.On("ResetPassword", mock.Anything, "old", mock.Anything).
			Return(&identity.ProviderError{StatusCode: http.StatusBadRequest, Body: []byte(`{"message":"Token expirado"}`)})

		w := httptest.NewRecorder()
		NewAuthHandler(gateway, logger).HandleResetPassword(w,
			jsonRequest(http.MethodPost, "/auth/reset-password", `{"token":"old","newPassword":"N0va-Senha!"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"message":"Token expirado"}`, w.Body.String())
	})
}

func TestAuthHandler_HandleLogoutAndMe(t *testing.T) {
	claims := sessionClaims()
	gateway := new(MockAuthGateway)
	gateway.On("Logout", mock.Anything, claims).Return()
	handler := NewAuthHandler(gateway, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	w := httptest.NewRecorder()
	handler.HandleLogout(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	gateway.AssertExpectations(t)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	w = httptest.NewRecorder()
	handler.HandleMe(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response MeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "user-1", response.User.ID)
	assert.Equal(t, "Porto Central", response.User.Tenant.Name)
	assert.Equal(t, []string{"VIEW:AUDIT"}, response.User.Permissions)
}
