// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/socialscope/scopeboard/internal/auth"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/store"
)

// ListUsers returns all authorized dashboard users, sorted by email.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	users, err := h.store.ListDashboardUsers(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	rw.Success(map[string]interface{}{"users": users})
}

type addUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AddUser registers a new dashboard user.
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req addUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := strings.ToLower(req.Role)
	if email == "" || !strings.Contains(email, "@") {
		rw.BadRequest("A valid email is required")
		return
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		rw.BadRequest("Role must be 'user' or 'admin'")
		return
	}

	if _, err := h.store.DashboardUser(r.Context(), email); err == nil {
		rw.Conflict("User already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		rw.DatabaseError(err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	user := &models.DashboardUser{
		Email:   email,
		Role:    role,
		AddedAt: models.NewFlexTime(time.Now()),
		AddedBy: caller.Email,
	}
	if err := h.store.UpsertDashboardUser(r.Context(), user); err != nil {
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("email", email).Str("role", role).Str("added_by", caller.Email).
		Msg("Dashboard user added")
	rw.Created(map[string]interface{}{"email": email, "role": role})
}

type updateUserRequest struct {
	Role string `json:"role"`
}

// UpdateUserRole changes a user's role. Admins cannot demote themselves.
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	email := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	role := strings.ToLower(req.Role)
	if role != models.RoleUser && role != models.RoleAdmin {
		rw.BadRequest("Role must be 'user' or 'admin'")
		return
	}

	caller, _ := auth.FromContext(r.Context())
	if email == strings.ToLower(caller.Email) && role != models.RoleAdmin {
		rw.BadRequest("Cannot demote yourself from admin")
		return
	}

	existing, err := h.store.DashboardUser(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("User not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	existing.Role = role
	existing.UpdatedAt = models.NewFlexTime(time.Now())
	existing.UpdatedBy = caller.Email
	if err := h.store.UpsertDashboardUser(r.Context(), existing); err != nil {
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("email", email).Str("role", role).Str("updated_by", caller.Email).
		Msg("Dashboard user role updated")
	rw.Success(map[string]interface{}{"email": email, "role": role})
}

// RemoveUser deletes a dashboard user. Admins cannot remove themselves.
func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	email := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))

	caller, _ := auth.FromContext(r.Context())
	if email == strings.ToLower(caller.Email) {
		rw.BadRequest("Cannot remove yourself")
		return
	}

	if err := h.store.DeleteDashboardUser(r.Context(), email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("User not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("email", email).Str("removed_by", caller.Email).
		Msg("Dashboard user removed")
	rw.Success(map[string]interface{}{"message": "User removed"})
}

// ListAlertRecipients returns the SMS recipient list sorted by name, then
// phone.
func (h *Handler) ListAlertRecipients(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	recipients, err := h.store.ListAlertRecipients(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	sort.Slice(recipients, func(i, j int) bool {
		ki, kj := recipients[i].Name, recipients[j].Name
		if ki == "" {
			ki = recipients[i].Phone
		}
		if kj == "" {
			kj = recipients[j].Phone
		}
		return ki < kj
	})
	rw.Success(map[string]interface{}{"recipients": recipients})
}

type addRecipientRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// AddAlertRecipient registers a new SMS recipient. Phone numbers are
// normalized to their 10 digits.
func (h *Handler) AddAlertRecipient(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req addRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}

	phone := normalizePhone(req.Phone)
	if len(phone) != 10 {
		rw.BadRequest("Phone must be a 10-digit US number")
		return
	}

	existing, err := h.store.ListAlertRecipients(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	for _, rec := range existing {
		if rec.Phone == phone {
			rw.Conflict("This phone number is already registered")
			return
		}
	}

	caller, _ := auth.FromContext(r.Context())
	recipient := &models.AlertRecipient{
		Phone:   phone,
		Name:    strings.TrimSpace(req.Name),
		AddedAt: models.NewFlexTime(time.Now()),
		AddedBy: caller.Email,
	}
	if err := h.store.UpsertAlertRecipient(r.Context(), recipient); err != nil {
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("phone", phone).Str("added_by", caller.Email).
		Msg("Alert recipient added")
	rw.Created(map[string]interface{}{"phone": phone})
}

// RemoveAlertRecipient deletes an SMS recipient.
func (h *Handler) RemoveAlertRecipient(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	phone := normalizePhone(chi.URLParam(r, "phone"))
	if err := h.store.DeleteAlertRecipient(r.Context(), phone); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("Recipient not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	logging.Ctx(r.Context()).Info().
		Str("phone", phone).Str("removed_by", caller.Email).
		Msg("Alert recipient removed")
	rw.Success(map[string]interface{}{"message": "Recipient removed"})
}

// InitAdmin creates the first admin account. Usable only while the user
// registry is empty, so it needs no token.
func (h *Handler) InitAdmin(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	count, err := h.store.CountDashboardUsers(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if count > 0 {
		rw.BadRequest("Admin initialization already completed. Use the user management page to add users.")
		return
	}

	email := strings.ToLower(strings.TrimSpace(h.cfg.Security.AdminEmail))
	if email == "" {
		rw.ServiceUnavailable("No initial admin email configured")
		return
	}

	admin := &models.DashboardUser{
		Email:   email,
		Role:    models.RoleAdmin,
		AddedAt: models.NewFlexTime(time.Now()),
		AddedBy: "system_init",
	}
	if err := h.store.UpsertDashboardUser(r.Context(), admin); err != nil {
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("email", email).Msg("Initial admin created")
	rw.Created(map[string]interface{}{
		"message":     "Admin initialized successfully",
		"admin_email": email,
	})
}

func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
