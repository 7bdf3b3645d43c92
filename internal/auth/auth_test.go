// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/store"
)

type fakeUsers struct {
	users map[string]*models.DashboardUser
}

func (f *fakeUsers) DashboardUser(_ context.Context, email string) (*models.DashboardUser, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func testManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	if _, err := NewJWTManager(&config.SecurityConfig{}); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := testManager(t)

	token, err := m.GenerateToken("staff@socialscope.org", models.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Email != "staff@socialscope.org" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.Role != models.RoleAdmin {
		t.Errorf("role = %q", claims.Role)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := testManager(t)
	other, _ := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "ffffffffffffffffffffffffffffffff",
		SessionTimeout: time.Hour,
	})

	token, err := other.GenerateToken("x@y.z", models.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("token signed with wrong secret was accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m, _ := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		SessionTimeout: -time.Minute,
	})
	token, err := m.GenerateToken("x@y.z", models.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expired token was accepted")
	}
}

func authedRequest(t *testing.T, m *JWTManager, email, role string) *http.Request {
	t.Helper()
	token, err := m.GenerateToken(email, role)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/participants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAuthenticate(t *testing.T) {
	m := testManager(t)
	users := &fakeUsers{users: map[string]*models.DashboardUser{
		"staff@socialscope.org": {Email: "staff@socialscope.org", Role: models.RoleUser},
	}}
	a := NewAuthenticator(m, users)

	var got Identity
	h := a.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	t.Run("valid token and registered user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authedRequest(t, m, "staff@socialscope.org", models.RoleUser))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got.Email != "staff@socialscope.org" || got.Role != models.RoleUser {
			t.Errorf("identity = %+v", got)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token but unregistered user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authedRequest(t, m, "stranger@example.com", models.RoleUser))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("registry role wins over token role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		// Token claims admin but the registry says user.
		h.ServeHTTP(rec, authedRequest(t, m, "staff@socialscope.org", models.RoleAdmin))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got.Role != models.RoleUser {
			t.Errorf("role = %q, want registry role user", got.Role)
		}
	})
}

func TestRequireAdmin(t *testing.T) {
	a := NewAuthenticator(testManager(t), &fakeUsers{})
	h := a.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("admin allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithIdentity(req.Context(), Identity{Email: "a@b.c", Role: models.RoleAdmin}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithIdentity(req.Context(), Identity{Email: "a@b.c", Role: models.RoleUser}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("no identity unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
