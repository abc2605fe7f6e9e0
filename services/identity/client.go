// Package identity is the HTTP client for the external identity provider that owns
// credentials, user profiles and service entitlements.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arcoportus/portal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
	apiKeyHeader   = "X-API-Key"
)

var (
	// ErrUnavailable wraps transport failures: refused connections, timeouts, cancelled contexts
	ErrUnavailable = errors.New("identity provider unavailable")

	// ErrMalformedResponse is returned when a 2xx reply cannot be decoded into the expected shape
	ErrMalformedResponse = errors.New("identity provider returned a malformed response")
)

// ProviderError is a non-2xx reply from the identity provider. Body holds the raw reply
// so callers can pass it through unchanged.
type ProviderError struct {
	StatusCode int
	Body       []byte
	Message    string
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("identity provider returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("identity provider returned %d", e.StatusCode)
}

// IsClientError reports whether the provider rejected the request itself (4xx)
func (e *ProviderError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// AsProviderError extracts a *ProviderError from err
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Tenant is the organization a user belongs to
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is the user record returned by the provider
type Profile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Services    []string `json:"services"`
	Tenant      Tenant   `json:"tenant"`
}

// HasService reports whether the profile is entitled to the named service
func (p *Profile) HasService(name string) bool {
	want := strings.TrimSpace(name)
	for _, s := range p.Services {
		if strings.EqualFold(strings.TrimSpace(s), want) {
			return true
		}
	}
	return false
}

// UserProfile returns the client-facing view of the profile
func (p *Profile) UserProfile() models.UserProfile {
	perms := make([]string, len(p.Permissions))
	copy(perms, p.Permissions)
	return models.UserProfile{
		ID:          p.ID,
		Name:        p.Name,
		Email:       p.Email,
		Role:        p.Role,
		Permissions: perms,
		Tenant:      models.TenantRef{ID: p.Tenant.ID, Name: p.Tenant.Name},
	}
}

// Config configures the client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Transport overrides the base round tripper; it is always wrapped with otelhttp
	Transport http.RoundTripper
}

// Client talks to the identity provider over JSON/HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new identity provider client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		logger: logger,
	}
}

type userEnvelope struct {
	User *Profile `json:"user"`
}

// Authenticate checks credentials and returns the user's profile
func (c *Client) Authenticate(ctx context.Context, email, password string) (*Profile, error) {
	body := map[string]string{"email": email, "password": password}
	return c.fetchProfile(ctx, http.MethodPost, "/auth/login", body)
}

// Validate returns the current profile of subjectID, confirming the account is still active
func (c *Client) Validate(ctx context.Context, subjectID string) (*Profile, error) {
	path := "/users/" + url.PathEscape(subjectID) + "/validate"
	return c.fetchProfile(ctx, http.MethodGet, path, nil)
}

// ChangePassword sets a new password for subjectID. The reply body is discarded.
func (c *Client) ChangePassword(ctx context.Context, subjectID, newPassword string) error {
	body := map[string]string{"userId": subjectID, "newPassword": newPassword}
	return c.do(ctx, http.MethodPatch, "/auth/force-change-password", body, nil)
}

// ForgotPassword asks the provider to send a reset link to email
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, nil)
}

// ResetPassword completes a reset started by ForgotPassword
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/auth/reset-password", body, nil)
}

func (c *Client) fetchProfile(ctx context.Context, method, path string, body interface{}) (*Profile, error) {
	var env userEnvelope
	if err := c.do(ctx, method, path, body, &env); err != nil {
		return nil, err
	}
	if env.User == nil || env.User.ID == "" {
		return nil, fmt.Errorf("%w: missing user in %s %s reply", ErrMalformedResponse, method, path)
	}
	return env.User, nil
}

// do performs one request. Non-2xx replies become *ProviderError; transport failures wrap
// ErrUnavailable. out may be nil when the reply body is not needed.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("identity provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: reading %s %s reply: %w", ErrUnavailable, method, path, err)
	}

	c.logger.Debug("identity provider replied",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Message:    extractMessage(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrMalformedResponse, method, path, err)
	}
	return nil
}

// extractMessage reads the "message" or "error" field of a JSON error body
func extractMessage(body []byte) string {
	var payload struct {
		Message interface{} `json:"message"`
		Error   interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, v := range []interface{}{payload.Message, payload.Error} {
		switch m := v.(type) {
		case string:
			if m != "" {
				return m
			}
		case []interface{}:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	return ""
}
