// Package auth implements the session lifecycle: login against the identity provider,
// token refresh with periodic revalidation, password flows and logout. Every outcome
// is written to the audit log.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arcoportus/portal/config"
	"github.com/arcoportus/portal/internal/observability"
	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/services"
	"github.com/arcoportus/portal/services/audit"
	"github.com/arcoportus/portal/services/identity"
	"github.com/arcoportus/portal/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// IdentityProvider is the subset of the identity provider API the gateway depends on
type IdentityProvider interface {
	Authenticate(ctx context.Context, email, password string) (*identity.Profile, error)
	Validate(ctx context.Context, subjectID string) (*identity.Profile, error)
	ChangePassword(ctx context.Context, subjectID, newPassword string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Config holds gateway settings
type Config struct {
	ServiceName  string        // entitlement required in the provider profile
	TokenTTL     time.Duration // lifetime of issued tokens
	StaleAfter   time.Duration // token age after which refresh revalidates with the provider
	RefreshGrace time.Duration // how long past exp a token is still accepted by Refresh
}

// DefaultConfig returns the production session policy
func DefaultConfig() Config {
	return Config{
		ServiceName:  config.DefaultServiceName,
		TokenTTL:     config.SessionTokenTTL,
		StaleAfter:   config.SessionStaleAfter,
		RefreshGrace: config.SessionRefreshGrace,
	}
}

// RequestMeta carries client details attached to audit entries
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginResult is returned on successful login
type LoginResult struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
	User      models.UserProfile `json:"user"`
}

// RefreshResult is returned on successful refresh
type RefreshResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Gateway orchestrates authentication against the identity provider
type Gateway struct {
	idp    IdentityProvider
	codec  *session.Codec
	audit  audit.Sink
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

// NewGateway creates a new authentication gateway
func NewGateway(idp IdentityProvider, codec *session.Codec, sink audit.Sink, logger *zap.Logger, cfg Config) *Gateway {
	def := DefaultConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.RefreshGrace <= 0 {
		cfg.RefreshGrace = def.RefreshGrace
	}
	return &Gateway{
		idp:    idp,
		codec:  codec,
		audit:  sink,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Login authenticates credentials with the provider and issues a session token.
// Exactly one audit event is recorded per attempt. Provider 401/403/404 answers all become
// ErrInvalidCredentials so an unknown email looks the same as a wrong password.
func (g *Gateway) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.Login")
	defer span.End()

	anonymous := &models.Actor{ID: models.TargetNone, Name: email, Role: models.TargetNone}

	profile, err := g.idp.Authenticate(ctx, email, password)
	observeProvider("authenticate", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")

		if pe, ok := identity.AsProviderError(err); ok {
			severity := models.SeverityLow
			if pe.IsClientError() {
				severity = models.SeverityMedium
			}
			g.record(ctx, audit.Entry{
				Action:   models.ActionLoginFailed,
				Module:   models.ModuleAuth,
				Target:   email,
				Details:  fmt.Sprintf("identity provider rejected login with status %d%s", pe.StatusCode, meta.suffix()),
				Severity: severity,
				Actor:    anonymous,
			})
			if isDenial(pe) {
				return nil, services.ErrInvalidCredentials
			}
			return nil, pe
		}

		g.logger.Error("login failed: identity provider unreachable", zap.Error(err))
		g.record(ctx, audit.Entry{
			Action:   models.ActionLoginFailed,
			Module:   models.ModuleAuth,
			Target:   email,
			Details:  "identity provider unavailable" + meta.suffix(),
			Severity: models.SeverityLow,
			Actor:    anonymous,
		})
		return nil, services.WrapInternal("login failed", err)
	}

	actor, tenant := profileActor(profile)
	span.SetAttributes(attribute.String("arco.subject_id", profile.ID))

	if !profile.HasService(g.cfg.ServiceName) {
		g.logger.Warn("login rejected: no service entitlement",
			zap.String("subject_id", profile.ID),
			zap.String("service", g.cfg.ServiceName))
		g.record(ctx, audit.Entry{
			Action:   models.ActionLoginUnauthorizedService,
			Module:   models.ModuleAuth,
			Target:   g.cfg.ServiceName,
			Details:  "user is not entitled to " + g.cfg.ServiceName + meta.suffix(),
			Severity: models.SeverityMedium,
			Actor:    actor,
			Tenant:   tenant,
		})
		return nil, services.ErrNoServiceEntitlement
	}

	token, claims, err := g.codec.Issue(profileIdentity(profile), g.cfg.TokenTTL)
	if err != nil {
		g.record(ctx, audit.Entry{
			Action:   models.ActionLoginFailed,
			Module:   models.ModuleAuth,
			Target:   email,
			Details:  "session token could not be issued",
			Severity: models.SeverityLow,
			Actor:    actor,
			Tenant:   tenant,
		})
		return nil, services.ErrTokenIssue.Wrap(err)
	}

	g.record(ctx, audit.Entry{
		Action:   models.ActionLogin,
		Module:   models.ModuleAuth,
		Details:  "login succeeded" + meta.suffix(),
		Severity: models.SeverityLow,
		Actor:    actor,
		Tenant:   tenant,
	})
	g.logger.Info("user logged in", zap.String("subject_id", profile.ID))

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAtTime(),
		User:      profile.UserProfile(),
	}, nil
}

// Refresh issues a new token for a validly signed one. Tokens older than the stale
// window are revalidated with the provider; younger ones are renewed as they are.
// A token that expired more than RefreshGrace ago is rejected with ErrTokenExpired.
func (g *Gateway) Refresh(ctx context.Context, token string) (*RefreshResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.Refresh")
	defer span.End()

	claims, err := g.codec.Decode(token)
	if err != nil {
		return nil, services.ErrInvalidToken
	}

	now := g.now()
	if now.After(claims.ExpiresAtTime().Add(g.cfg.RefreshGrace)) {
		g.logger.Info("refresh rejected: token past its refresh grace",
			zap.String("subject_id", claims.SubjectID),
			zap.Time("expired_at", claims.ExpiresAtTime()))
		return nil, services.ErrTokenExpired
	}

	age := claims.Age(now)
	span.SetAttributes(
		attribute.String("arco.subject_id", claims.SubjectID),
		attribute.Int64("arco.token_age_seconds", int64(age.Seconds())),
	)
	actor, tenant := claimsActor(claims)

	if !claims.IsStale(now, g.cfg.StaleAfter) {
		return g.reissue(ctx, claims.Identity(), actor, tenant, "session renewed")
	}

	profile, err := g.idp.Validate(ctx, claims.SubjectID)
	observeProvider("validate", err)
	if err != nil {
		if isDenial(err) {
			return nil, g.deny(ctx, actor, tenant, fmt.Sprintf("identity provider denied revalidation: %v", err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "revalidation failed")
		g.logger.Warn("session revalidation failed",
			zap.String("subject_id", claims.SubjectID),
			zap.Duration("token_age", age),
			zap.Error(err))
		return nil, services.ErrRevalidationFailed
	}

	if !profile.HasService(g.cfg.ServiceName) {
		return nil, g.deny(ctx, actor, tenant, "service entitlement removed")
	}

	actor, tenant = profileActor(profile)
	return g.reissue(ctx, profileIdentity(profile), actor, tenant, "session revalidated and renewed")
}

func (g *Gateway) reissue(ctx context.Context, id session.Identity, actor *models.Actor, tenant models.TenantRef, details string) (*RefreshResult, error) {
	token, claims, err := g.codec.Issue(id, g.cfg.TokenTTL)
	if err != nil {
		return nil, services.ErrTokenIssue.Wrap(err)
	}
	g.record(ctx, audit.Entry{
		Action:   models.ActionTokenRefresh,
		Module:   models.ModuleAuth,
		Details:  details,
		Severity: models.SeverityLow,
		Actor:    actor,
		Tenant:   tenant,
	})
	return &RefreshResult{Token: token, ExpiresAt: claims.ExpiresAtTime()}, nil
}

func (g *Gateway) deny(ctx context.Context, actor *models.Actor, tenant models.TenantRef, details string) error {
	g.logger.Warn("session refresh denied",
		zap.String("subject_id", actor.ID),
		zap.String("reason", details))
	g.record(ctx, audit.Entry{
		Action:   models.ActionTokenRefreshDenied,
		Module:   models.ModuleAuth,
		Details:  details,
		Severity: models.SeverityHigh,
		Actor:    actor,
		Tenant:   tenant,
	})
	return services.ErrAccessRevoked
}

// isDenial reports whether the provider answered that the account may not sign in
func isDenial(err error) bool {
	pe, ok := identity.AsProviderError(err)
	if !ok {
		return false
	}
	switch pe.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

// ForceChangePassword sets a new password for the caller. Provider errors are returned
// unchanged so the handler can pass them through.
func (g *Gateway) ForceChangePassword(ctx context.Context, claims *session.Claims, newPassword string) error {
	ctx, span := observability.StartSpan(ctx, "auth.ForceChangePassword")
	defer span.End()

	err := g.idp.ChangePassword(ctx, claims.SubjectID, newPassword)
	observeProvider("change_password", err)
	if err != nil {
		span.RecordError(err)
		if pe, ok := identity.AsProviderError(err); ok {
			return pe
		}
		return services.WrapInternal("failed to change password", err)
	}

	actor, tenant := claimsActor(claims)
	g.record(ctx, audit.Entry{
		Action:   models.ActionPasswordChanged,
		Module:   models.ModuleAuth,
		Target:   claims.SubjectID,
		Details:  "password changed by its owner",
		Severity: models.SeverityHigh,
		Actor:    actor,
		Tenant:   tenant,
	})
	return nil
}

// ForgotPassword requests a reset link. It never fails so callers cannot probe which
// addresses exist.
func (g *Gateway) ForgotPassword(ctx context.Context, email string) {
	ctx, span := observability.StartSpan(ctx, "auth.ForgotPassword")
	defer span.End()

	err := g.idp.ForgotPassword(ctx, email)
	observeProvider("forgot_password", err)
	if err != nil {
		g.logger.Warn("forgot-password request not accepted by identity provider", zap.Error(err))
	}

	g.record(ctx, audit.Entry{
		Action:   models.ActionPasswordResetRequested,
		Module:   models.ModuleAuth,
		Target:   email,
		Details:  "password reset requested",
		Severity: models.SeverityLow,
		Actor:    &models.Actor{ID: models.TargetNone, Name: email, Role: models.TargetNone},
	})
}

// ResetPassword completes a reset with the token from the reset link
func (g *Gateway) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := observability.StartSpan(ctx, "auth.ResetPassword")
	defer span.End()

	err := g.idp.ResetPassword(ctx, token, newPassword)
	observeProvider("reset_password", err)
	if err != nil {
		span.RecordError(err)
		if pe, ok := identity.AsProviderError(err); ok {
			return pe
		}
		return services.WrapInternal("failed to reset password", err)
	}

	g.record(ctx, audit.Entry{
		Action:   models.ActionPasswordReset,
		Module:   models.ModuleAuth,
		Details:  "password reset completed with a reset token",
		Severity: models.SeverityMedium,
		Actor:    &models.Actor{ID: models.TargetNone, Name: "reset link", Role: models.TargetNone},
	})
	return nil
}

// Logout records the end of a session. Tokens are stateless, so nothing is revoked.
func (g *Gateway) Logout(ctx context.Context, claims *session.Claims) {
	actor, tenant := claimsActor(claims)
	g.record(ctx, audit.Entry{
		Action:   models.ActionLogout,
		Module:   models.ModuleAuth,
		Details:  "logout",
		Severity: models.SeverityLow,
		Actor:    actor,
		Tenant:   tenant,
	})
}

func (g *Gateway) record(ctx context.Context, entry audit.Entry) {
	if g.audit == nil {
		return
	}
	g.audit.Record(ctx, entry)
}

func (m RequestMeta) suffix() string {
	if m.IP == "" {
		return ""
	}
	return " from " + m.IP
}

func profileIdentity(p *identity.Profile) session.Identity {
	perms := make([]string, len(p.Permissions))
	copy(perms, p.Permissions)
	return session.Identity{
		SubjectID:   p.ID,
		DisplayName: p.Name,
		Tenant:      session.Tenant{ID: p.Tenant.ID, Name: p.Tenant.Name},
		Role:        p.Role,
		Permissions: perms,
	}
}

func profileActor(p *identity.Profile) (*models.Actor, models.TenantRef) {
	return &models.Actor{ID: p.ID, Name: p.Name, Role: p.Role},
		models.TenantRef{ID: p.Tenant.ID, Name: p.Tenant.Name}
}

func claimsActor(c *session.Claims) (*models.Actor, models.TenantRef) {
	return &models.Actor{ID: c.SubjectID, Name: c.DisplayName, Role: c.Role},
		models.TenantRef{ID: c.Tenant.ID, Name: c.Tenant.Name}
}

func observeProvider(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrUnavailable):
		outcome = "unavailable"
	default:
		if _, ok := identity.AsProviderError(err); ok {
			outcome = "rejected"
		} else {
			outcome = "error"
		}
	}
	observability.IdentityRequestsTotal.WithLabelValues(operation, outcome).Inc()
}
