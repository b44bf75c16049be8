package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tenant-service/internal/model"
	"tenant-service/pkg/database"
	"tenant-service/pkg/jwtutil"
	"tenant-service/pkg/logger"
	"tenant-service/pkg/tenantctx"
	"tenant-service/prometheus"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExemptPaths skip credential resolution entirely. Login, registration
// and password flows happen at the identity provider before a tenant is
// known; health, metrics and docs carry no tenant data.
var ExemptPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/forgot-password",
	"/auth/verify",
	"/health",
	"/metrics",
	"/docs",
	"/openapi.json",
}

func isExempt(path string) bool {
	for _, p := range ExemptPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// AuthMiddleware validates the bearer token against the identity
// provider's key set, synchronizes the principal, and installs the
// tenant context on the request for the handler's extent. The context is
// carried by the request's context.Context, so it is dropped on every
// exit path and can never leak into the next request.
//
// All verification failures map to a uniform 401; the distinction
// between them lives in logs and metrics only.
func AuthMiddleware(verifier *jwtutil.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isExempt(c.Request().URL.Path) {
				return next(c)
			}

			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				prometheus.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := verifier.Decode(c.Request().Context(), parts[1])
			if err != nil {
				switch {
				case errors.Is(err, jwtutil.ErrTenantClaimMissing):
					// A verified token without tenant wiring means the
					// identity provider is misconfigured, not forged.
					log.Warn("Token missing tenant claim", zap.Error(err))
					prometheus.RecordAuthError("tenant_claim_missing")
				case errors.Is(err, jwtutil.ErrKeySetFetch):
					// Logged at elevated severity for operators; the
					// caller still sees a plain 401 so an attacker
					// cannot tell our dependency is down.
					log.Error("Verification key set unavailable", zap.Error(err))
					prometheus.RecordAuthError("key_set_fetch_failed")
				case errors.Is(err, jwtutil.ErrTokenExpired):
					log.Warn("Expired token", zap.Error(err))
					prometheus.RecordAuthError("token_expired")
				default:
					log.Warn("Invalid token", zap.Error(err))
					prometheus.RecordAuthError("invalid_token")
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			subjectID, err := uuid.Parse(claims.Subject)
			if err != nil {
				log.Warn("Malformed subject claim", zap.String("sub", claims.Subject))
				prometheus.RecordAuthError("invalid_subject")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				// Authenticated but no resolvable tenant: proceed with
				// no context. The row policies deny by default, so every
				// protected query observes zero rows (fail-closed, not
				// fail-open). Logged as a security warning.
				log.Warn("tenant_context_missing",
					zap.String("path", c.Request().URL.Path),
					zap.String("sub", claims.Subject),
					zap.String("tenant_claim", claims.TenantID))
				prometheus.RecordTenantContext("missing")
				return next(c)
			}

			user, err := syncUser(c.Request().Context(), subjectID, claims.Email, tenantID)
			if err != nil {
				log.Error("Principal synchronization failed", zap.Error(err))
				prometheus.RecordAuthError("user_sync_failed")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set("user_id", user.ID)
			c.Set("email", user.Email)
			c.Set("tenant_id", tenantID)

			ctx := tenantctx.With(c.Request().Context(), tenantctx.Tenant(tenantID))
			c.SetRequest(c.Request().WithContext(ctx))
			prometheus.RecordTenantContext("set")

			log.Debug("Request authenticated with tenant context",
				zap.String("user_id", user.ID.String()),
				zap.String("tenant_id", tenantID.String()))

			return next(c)
		}
	}
}

// syncUser upserts the principal from the verified claims. The users
// table is itself row-protected and no tenant context exists yet, so the
// upsert runs inside a narrow administrative scope covering only this
// lookup. A concurrent first-sight of the same subject loses the insert
// race on the primary key; the loser re-reads once.
var syncUser = func(ctx context.Context, subjectID uuid.UUID, email string, tenantID uuid.UUID) (*model.User, error) {
	admin := tenantctx.With(ctx, tenantctx.Bypass())

	sess, err := database.NewSession(admin)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	db := sess.DB(admin)

	var user model.User
	err = db.Where("id = ?", subjectID).First(&user).Error
	if err == nil {
		if user.Email != email {
			if err := db.Model(&user).Update("email", email).Error; err != nil {
				return nil, err
			}
			user.Email = email
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = model.User{
		ID:       subjectID,
		Email:    email,
		Active:   true,
		Verified: true, // verification is the identity provider's job
		TenantID: tenantID,
	}
	if err := db.Create(&user).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if err := db.Where("id = ?", subjectID).First(&user).Error; err != nil {
				return nil, err
			}
			return &user, nil
		}
		return nil, err
	}
	return &user, nil
}
