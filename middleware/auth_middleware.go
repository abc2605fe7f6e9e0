package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/services/audit"
	"github.com/arcoportus/portal/session"
	"github.com/arcoportus/portal/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating session tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns its claims
	ValidateToken(ctx context.Context, token string) (*session.Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	audit     audit.Sink
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. sink may be nil, in which case
// denials are only logged.
func NewAuthMiddleware(validator TokenValidator, sink audit.Sink, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		audit:     sink,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires a valid session token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := ExtractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("subject_id", claims.SubjectID),
			zap.String("role", claims.Role))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires the caller's role to be one of roles
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !claims.HasAnyRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.Strings("required_roles", roles),
					zap.String("user_role", claims.Role))
				m.recordDenied(r, claims, "role "+claims.Role+" not in "+strings.Join(roles, ","))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			m.logger.Debug("role check passed",
				zap.String("request_id", requestID),
				zap.String("user_role", claims.Role))

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission is a middleware that requires a specific permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !claims.HasPermission(permission) {
				m.logger.Warn("missing permission",
					zap.String("request_id", requestID),
					zap.String("required_permission", permission),
					zap.String("subject_id", claims.SubjectID))
				m.recordDenied(r, claims, "missing permission "+permission)
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) recordDenied(r *http.Request, claims *session.Claims, details string) {
	if m.audit == nil {
		return
	}
	m.audit.Record(r.Context(), audit.Entry{
		Action:   models.ActionAccessDenied,
		Module:   models.ModuleAuth,
		Target:   r.URL.Path,
		Details:  r.Method + " " + r.URL.Path + ": " + details,
		Severity: models.SeverityMedium,
		Actor:    &models.Actor{ID: claims.SubjectID, Name: claims.DisplayName, Role: claims.Role},
		Tenant:   models.TenantRef{ID: claims.Tenant.ID, Name: claims.Tenant.Name},
	})
}

// ExtractBearerToken extracts the Bearer token from the Authorization header
func ExtractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
