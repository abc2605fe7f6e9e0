package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const profileJSON = `{"user":{"id":"u-1","name":"Maria Souza","email":"maria@porto.br","role":"ADMIN",
	"permissions":["VIEW:AUDIT"],"services":["Arco Portus","Outro"],"tenant":{"id":"t-1","name":"Porto Central"}}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret-key", Timeout: 2 * time.Second}, zaptest.NewLogger(t))
}

func TestClient_Authenticate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "maria@porto.br", body["email"])
		assert.Equal(t, "hunter22", body["password"])

		_, _ = w.Write([]byte(profileJSON))
	})

	profile, err := client.Authenticate(context.Background(), "maria@porto.br", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "u-1", profile.ID)
	assert.Equal(t, "Porto Central", profile.Tenant.Name)
	assert.Equal(t, []string{"VIEW:AUDIT"}, profile.Permissions)
	assert.True(t, profile.HasService("Arco Portus"))
}

func TestClient_Authenticate_ProviderError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantClient  bool
	}{
		{"message field", http.StatusUnauthorized, `{"message":"Credenciais inválidas"}`, "Credenciais inválidas", true},
		{"error field", http.StatusForbidden, `{"error":"Conta bloqueada"}`, "Conta bloqueada", true},
		{"message list", http.StatusBadRequest, `{"message":["email must be an email","password too short"]}`, "email must be an email; password too short", true},
		{"plain text", http.StatusBadGateway, "upstream down", "upstream down", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Authenticate(context.Background(), "a@b.c", "x")
			pe, ok := AsProviderError(err)
			require.True(t, ok, "expected ProviderError, got %v", err)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.body, string(pe.Body))
			assert.Equal(t, tt.wantMessage, pe.Message)
			assert.Equal(t, tt.wantClient, pe.IsClientError())
		})
	}
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: baseURL}, zaptest.NewLogger(t))
	_, err := client.Validate(context.Background(), "u-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, isProvider := AsProviderError(err)
	assert.False(t, isProvider)
}

func TestClient_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Validate(ctx, "u-1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"missing user", `{"ok":true}`},
		{"user without id", `{"user":{"name":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Authenticate(context.Background(), "a@b.c", "x")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestClient_Validate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/u%2F1/validate", r.URL.EscapedPath())
		_, _ = w.Write([]byte(profileJSON))
	})

	profile, err := client.Validate(context.Background(), "u/1")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", profile.Role)
}

func TestClient_PasswordOperations(t *testing.T) {
	var got struct {
		method, path string
		body         map[string]string
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path = r.Method, r.URL.Path
		got.body = map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	ctx := context.Background()

	require.NoError(t, client.ChangePassword(ctx, "u-1", "n3w-pass!"))
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/auth/force-change-password", got.path)
	assert.Equal(t, map[string]string{"userId": "u-1", "newPassword": "n3w-pass!"}, got.body)

	require.NoError(t, client.ForgotPassword(ctx, "maria@porto.br"))
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/auth/forgot-password", got.path)
	assert.Equal(t, map[string]string{"email": "maria@porto.br"}, got.body)

	require.NoError(t, client.ResetPassword(ctx, "reset-tok", "n3w-pass!"))
	assert.Equal(t, "/auth/reset-password", got.path)
	assert.Equal(t, map[string]string{"token": "reset-tok", "newPassword": "n3w-pass!"}, got.body)
}

func TestProfile_HasService(t *testing.T) {
	p := &Profile{Services: []string{" arco portus ", "CFTV"}}
	assert.True(t, p.HasService("Arco Portus"))
	assert.False(t, p.HasService("Arco"))
	assert.False(t, (&Profile{}).HasService("Arco Portus"))
}

func TestProfile_UserProfile(t *testing.T) {
	p := &Profile{ID: "u-1", Name: "Maria", Email: "m@p.br", Role: "USER",
		Permissions: []string{"VIEW:CFTV"}, Services: []string{"Arco Portus"}, Tenant: Tenant{ID: "t", Name: "T"}}

	up := p.UserProfile()
	assert.Equal(t, "u-1", up.ID)
	assert.Equal(t, "T", up.Tenant.Name)

	up.Permissions[0] = "changed"
	assert.Equal(t, "VIEW:CFTV", p.Permissions[0])
}
