package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/arcoportus/portal/middleware"
	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/services/auth"
	"github.com/arcoportus/portal/session"
	"github.com/arcoportus/portal/utils"
	"go.uber.org/zap"
)

// AuthGateway is the session lifecycle the auth handler drives
type AuthGateway interface {
	Login(ctx context.Context, email, password string, meta auth.RequestMeta) (*auth.LoginResult, error)
	Refresh(ctx context.Context, token string) (*auth.RefreshResult, error)
	ForceChangePassword(ctx context.Context, claims *session.Claims, newPassword string) error
	ForgotPassword(ctx context.Context, email string)
	ResetPassword(ctx context.Context, token, newPassword string) error
	Logout(ctx context.Context, claims *session.Claims)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ForceChangePasswordRequest is the body of PATCH /auth/force-change-password
type ForceChangePasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// ForgotPasswordRequest is the body of POST /auth/forgot-password
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// MeResponse is the body of GET /auth/me
type MeResponse struct {
	User models.UserProfile `json:"user"`
}

// AuthHandler handles the /auth endpoints
type AuthHandler struct {
	gateway AuthGateway
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(gateway AuthGateway, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		gateway: gateway,
		logger:  logger,
	}
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.gateway.Login(ctx, req.Email, req.Password, requestMeta(r))
	if err != nil {
		h.logger.Info("login rejected",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleRefresh handles POST /auth/refresh-token. The current token travels in the
// Authorization header and may already be expired.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := middleware.ExtractBearerToken(r)
	if token == "" {
		_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
		return
	}

	result, err := h.gateway.Refresh(ctx, token)
	if err != nil {
		h.logger.Info("token refresh rejected",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleForceChangePassword handles PATCH /auth/force-change-password
func (h *AuthHandler) HandleForceChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	var req ForceChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.gateway.ForceChangePassword(r.Context(), claims, req.NewPassword); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleForgotPassword handles POST /auth/forgot-password. It answers 204 for any
// well-formed request.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.gateway.ForgotPassword(r.Context(), req.Email)
	utils.WriteNoContent(w)
}

// HandleResetPassword handles POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.gateway.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	h.gateway.Logout(r.Context(), claims)
	utils.WriteNoContent(w)
}

// HandleMe handles GET /auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireClaims(w, r)
	if !ok {
		return
	}

	perms := make([]string, len(claims.Permissions))
	copy(perms, claims.Permissions)

	_ = utils.WriteOK(w, MeResponse{User: models.UserProfile{
		ID:          claims.SubjectID,
		Name:        claims.DisplayName,
		Role:        claims.Role,
		Permissions: perms,
		Tenant:      models.TenantRef{ID: claims.Tenant.ID, Name: claims.Tenant.Name},
	}})
}

func (h *AuthHandler) requireClaims(w http.ResponseWriter, r *http.Request) (*session.Claims, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		h.logger.Error("claims not found in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	return claims, true
}

// decode parses and validates a JSON body, writing a 400 on failure
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}
