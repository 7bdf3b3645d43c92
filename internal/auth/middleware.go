// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/store"
)

type identityKey struct{}

// Identity is the authenticated caller attached to the request context.
// Role comes from the dashboard_users registry, not the token, so a role
// change takes effect on the next request rather than at token renewal.
type Identity struct {
	Email string
	Role  string
}

// Admin reports whether the identity carries the admin role.
func (id Identity) Admin() bool {
	return id.Role == models.RoleAdmin
}

// FromContext extracts the authenticated identity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// ContextWithIdentity attaches an identity, mainly for handler tests.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// UserStore resolves dashboard user records during authentication.
type UserStore interface {
	DashboardUser(ctx context.Context, email string) (*models.DashboardUser, error)
}

// Authenticator guards routes with bearer-token authentication backed by
// the dashboard user registry.
type Authenticator struct {
	jwt   *JWTManager
	users UserStore
}

// NewAuthenticator builds the middleware provider.
func NewAuthenticator(jwt *JWTManager, users UserStore) *Authenticator {
	return &Authenticator{jwt: jwt, users: users}
}

// Authenticate rejects requests without a valid bearer token belonging to a
// registered dashboard user.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			unauthorized(w, "Missing bearer token")
			return
		}

		claims, err := a.jwt.ValidateToken(tokenString)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Token validation failed")
			unauthorized(w, "Invalid or expired token")
			return
		}

		email := strings.ToLower(strings.TrimSpace(claims.Email))
		user, err := a.users.DashboardUser(r.Context(), email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				logging.Ctx(r.Context()).Warn().
					Str("email", email).
					Msg("Token holder is not a registered dashboard user")
				forbidden(w, "Not authorized for this dashboard")
				return
			}
			logging.Ctx(r.Context()).Error().Err(err).Msg("User lookup failed during auth")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		ctx := ContextWithIdentity(r.Context(), Identity{Email: user.Email, Role: user.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated requests whose identity is not an
// admin. Must run after Authenticate.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			unauthorized(w, "Missing bearer token")
			return
		}
		if !id.Admin() {
			forbidden(w, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="scopeboard"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

func forbidden(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusForbidden)
}
