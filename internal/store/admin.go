// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/socialscope/scopeboard/internal/models"
)

// DashboardUser returns the dashboard account for an email address.
func (s *Store) DashboardUser(ctx context.Context, email string) (_ *models.DashboardUser, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find_one", "dashboard_users")(&err)

	var u models.DashboardUser
	err = s.dashboardUsers.FindOne(ctx, bson.M{"_id": email}).Decode(&u)
	if err != nil {
		if mapNotFound(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find dashboard user: %w", err)
	}
	return &u, nil
}

// ListDashboardUsers returns all dashboard accounts sorted by email.
func (s *Store) ListDashboardUsers(ctx context.Context) (_ []*models.DashboardUser, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "dashboard_users")(&err)

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.dashboardUsers.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find dashboard users: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.DashboardUser
	for cur.Next(ctx) {
		var u models.DashboardUser
		if err := cur.Decode(&u); err != nil {
			continue
		}
		out = append(out, &u)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("dashboard users cursor: %w", err)
	}

	return out, nil
}

// UpsertDashboardUser creates or replaces a dashboard account.
func (s *Store) UpsertDashboardUser(ctx context.Context, u *models.DashboardUser) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("replace", "dashboard_users")(&err)

	_, err = s.dashboardUsers.ReplaceOne(ctx,
		bson.M{"_id": u.Email}, u, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert dashboard user: %w", err)
	}
	return nil
}

// DeleteDashboardUser removes a dashboard account.
func (s *Store) DeleteDashboardUser(ctx context.Context, email string) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("delete", "dashboard_users")(&err)

	res, err := s.dashboardUsers.DeleteOne(ctx, bson.M{"_id": email})
	if err != nil {
		return fmt.Errorf("delete dashboard user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CountDashboardUsers returns the number of dashboard accounts. Used by the
// one-time admin bootstrap, which only runs against an empty collection.
func (s *Store) CountDashboardUsers(ctx context.Context) (_ int64, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("count", "dashboard_users")(&err)

	n, err := s.dashboardUsers.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count dashboard users: %w", err)
	}
	return n, nil
}

// ListAlertRecipients returns all SMS alert recipients sorted by phone number.
func (s *Store) ListAlertRecipients(ctx context.Context) (_ []*models.AlertRecipient, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "alert_recipients")(&err)

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.alertRecipients.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find alert recipients: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.AlertRecipient
	for cur.Next(ctx) {
		var r models.AlertRecipient
		if err := cur.Decode(&r); err != nil {
			continue
		}
		out = append(out, &r)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("alert recipients cursor: %w", err)
	}

	return out, nil
}

// UpsertAlertRecipient creates or replaces an SMS alert recipient.
func (s *Store) UpsertAlertRecipient(ctx context.Context, r *models.AlertRecipient) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("replace", "alert_recipients")(&err)

	_, err = s.alertRecipients.ReplaceOne(ctx,
		bson.M{"_id": r.Phone}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert alert recipient: %w", err)
	}
	return nil
}

// DeleteAlertRecipient removes an SMS alert recipient.
func (s *Store) DeleteAlertRecipient(ctx context.Context, phone string) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("delete", "alert_recipients")(&err)

	res, err := s.alertRecipients.DeleteOne(ctx, bson.M{"_id": phone})
	if err != nil {
		return fmt.Errorf("delete alert recipient: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
