package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dom/school-portal/internal/api/respond"
	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	IdentityKey contextKey = "identity"
)

// Cookie names shared by the guard and the auth handlers.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Identity is the verified caller attached to the request context.
type Identity struct {
	UserID uuid.UUID
	Role   domain.Role
}

// ActiveUserChecker loads a user and refuses suspended accounts.
type ActiveUserChecker interface {
	CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Authenticate verifies the access token and attaches the caller's Identity.
// The check is stateless; it never consults the session store.
func Authenticate(issuer *auth.Issuer, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AccessToken(r)
			if token == "" {
				respond.Error(w, r, logger, domain.ErrUnauthorized)
				return
			}

			identity, err := issuer.VerifyAccessToken(token)
			if err != nil {
				logger.WithError(err).Debug("access token rejected")
				respond.Error(w, r, logger, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
				return
			}

			ctx := WithIdentity(r.Context(), Identity{UserID: identity.UserID, Role: identity.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				respond.Write(w, domain.ErrUnauthorized)
				return
			}
			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.Write(w, domain.ErrForbidden)
		})
	}
}

// RequirePermission rejects callers whose role lacks perm.
func RequirePermission(perm domain.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				respond.Write(w, domain.ErrUnauthorized)
				return
			}
			if !domain.HasPermission(identity.Role, perm) {
				respond.Write(w, domain.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireActive re-checks the caller against the user store so a suspended,
// deleted or re-roled account loses access before its access token expires.
// A token whose role no longer matches the stored one is treated as invalid.
func RequireActive(users ActiveUserChecker, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				respond.Error(w, r, logger, domain.ErrUnauthorized)
				return
			}

			user, err := users.CurrentUser(r.Context(), identity.UserID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				respond.Error(w, r, logger, domain.ErrUnauthorized)
			case err != nil:
				respond.Error(w, r, logger, err)
			case user.Role != identity.Role:
				logger.WithFields(logrus.Fields{
					"user_id":    user.ID,
					"token_role": identity.Role,
					"role":       user.Role,
				}).Info("access token carries a stale role")
				respond.Error(w, r, logger, fmt.Errorf("%w: role changed", domain.ErrTokenInvalid))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// AccessToken returns the access token from the cookie, falling back to an
// Authorization: Bearer header for API clients.
func AccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFrom returns the caller attached by Authenticate.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(Identity)
	return identity, ok
}
