// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/socialscope/scopeboard/internal/models"
)

// participantFilter matches records belonging to a participant under either
// field spelling used by the collection apps.
func participantFilter(id string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"participantId": id},
		bson.M{"participant_id": id},
	}}
}

// EventsInRange returns a participant's events whose occurrence time falls in
// [start, end). The Mongo filter matches both native and string timestamp
// encodings on both the timestamp and createdAt fields; exact boundaries are
// re-checked in memory after FlexTime decoding.
func (s *Store) EventsInRange(ctx context.Context, participantID string, start, end time.Time) (_ []*models.Event, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "events")(&err)

	filter := bson.M{"$and": bson.A{
		participantFilter(participantID),
		eitherFieldInRange("timestamp", "createdAt", start, end),
	}}

	cur, err := s.events.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Event
	for cur.Next(ctx) {
		var e models.Event
		if err := cur.Decode(&e); err != nil {
			continue
		}
		occurred := e.OccurredAt()
		if !occurred.Valid() {
			continue
		}
		if t := occurred.Time(); t.Before(start) || !t.Before(end) {
			continue
		}
		out = append(out, &e)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("events cursor: %w", err)
	}

	return out, nil
}

// CheckinsInRange returns a participant's completed EMA check-ins in [start, end).
func (s *Store) CheckinsInRange(ctx context.Context, participantID string, start, end time.Time) (_ []*models.CheckIn, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "checkins")(&err)

	filter := bson.M{"$and": bson.A{
		participantFilter(participantID),
		eitherFieldInRange("completedAt", "startedAt", start, end),
	}}

	cur, err := s.checkins.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find checkins: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.CheckIn
	for cur.Next(ctx) {
		var c models.CheckIn
		if err := cur.Decode(&c); err != nil {
			continue
		}
		when := c.CompletedAt
		if !when.Valid() {
			when = c.StartedAt
		}
		if !when.Valid() {
			continue
		}
		if t := when.Time(); t.Before(start) || !t.Before(end) {
			continue
		}
		out = append(out, &c)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("checkins cursor: %w", err)
	}

	return out, nil
}

// RecentCheckins returns a participant's most recent check-ins, newest first,
// bounded by limit. Used for crisis cross-referencing in the alert cache.
func (s *Store) RecentCheckins(ctx context.Context, participantID string, limit int) (_ []*models.CheckIn, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "checkins")(&err)

	opts := options.Find().
		SetSort(bson.D{{Key: "completedAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.checkins.Find(ctx, participantFilter(participantID), opts)
	if err != nil {
		return nil, fmt.Errorf("find recent checkins: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.CheckIn
	for cur.Next(ctx) {
		var c models.CheckIn
		if err := cur.Decode(&c); err != nil {
			continue
		}
		out = append(out, &c)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("recent checkins cursor: %w", err)
	}

	return out, nil
}

// AlertsInRange returns a participant's safety alerts in [start, end).
func (s *Store) AlertsInRange(ctx context.Context, participantID string, start, end time.Time) (_ []*models.SafetyAlert, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "safety_alerts")(&err)

	filter := bson.M{"$and": bson.A{
		participantFilter(participantID),
		timeRangeFilter("triggeredAt", start, end),
	}}

	return s.decodeAlerts(ctx, filter)
}

// RecentAlerts returns a participant's newest safety alerts, bounded by
// limit. This is the alert cache's refresh query.
func (s *Store) RecentAlerts(ctx context.Context, participantID string, limit int) (_ []*models.SafetyAlert, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "safety_alerts")(&err)

	opts := options.Find().
		SetSort(bson.D{{Key: "triggeredAt", Value: -1}}).
		SetLimit(int64(limit))
	return s.decodeAlerts(ctx, participantFilter(participantID), opts)
}

func (s *Store) decodeAlerts(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*models.SafetyAlert, error) {
	cur, err := s.safetyAlerts.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("find alerts: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.SafetyAlert
	for cur.Next(ctx) {
		var a models.SafetyAlert
		if err := cur.Decode(&a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("alerts cursor: %w", err)
	}

	return out, nil
}
