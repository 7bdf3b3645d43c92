// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/socialscope/scopeboard/internal/models"
)

// AllEvents returns a participant's complete event history, used by exports
// without a date window.
func (s *Store) AllEvents(ctx context.Context, participantID string) (_ []*models.Event, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "events")(&err)

	cur, err := s.events.Find(ctx, participantFilter(participantID))
	if err != nil {
		return nil, fmt.Errorf("find all events: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Event
	for cur.Next(ctx) {
		var e models.Event
		if err := cur.Decode(&e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("all events cursor: %w", err)
	}
	return out, nil
}

// AllCheckins returns a participant's complete EMA history.
func (s *Store) AllCheckins(ctx context.Context, participantID string) (_ []*models.CheckIn, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "checkins")(&err)

	cur, err := s.checkins.Find(ctx, participantFilter(participantID))
	if err != nil {
		return nil, fmt.Errorf("find all checkins: %w", err)
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
		return nil, fmt.Errorf("all checkins cursor: %w", err)
	}
	return out, nil
}

// AllAlerts returns a participant's complete safety-alert history.
func (s *Store) AllAlerts(ctx context.Context, participantID string) (_ []*models.SafetyAlert, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "safety_alerts")(&err)

	return s.decodeAlerts(ctx, participantFilter(participantID))
}

// HasParticipantData reports whether any record exists for the participant in
// the events, check-in, or alert collections. Used to admit exports for
// participants missing from both registries.
func (s *Store) HasParticipantData(ctx context.Context, participantID string) (_ bool, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("count", "participant_data")(&err)

	filter := participantFilter(participantID)
	for _, coll := range []*namedColl{
		{s.events, s.cfg.EventsCollection},
		{s.checkins, s.cfg.CheckinsCollection},
		{s.safetyAlerts, s.cfg.SafetyAlertsCollection},
	} {
		n, err := coll.c.CountDocuments(ctx, filter, options.Count().SetLimit(1))
		if err != nil {
			return false, fmt.Errorf("count %s: %w", coll.name, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// CountCheckins returns the number of a participant's check-ins, capped at
// limit. Estimates only need the capped count.
func (s *Store) CountCheckins(ctx context.Context, participantID string, limit int) (int, error) {
	return s.countCapped(ctx, s.checkins, "checkins", participantID, limit)
}

// CountAlerts returns the number of a participant's safety alerts, capped at
// limit.
func (s *Store) CountAlerts(ctx context.Context, participantID string, limit int) (int, error) {
	return s.countCapped(ctx, s.safetyAlerts, "safety_alerts", participantID, limit)
}

func (s *Store) countCapped(ctx context.Context, coll *mongo.Collection, collName, participantID string, limit int) (_ int, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("count", collName)(&err)

	n, err := coll.CountDocuments(ctx, participantFilter(participantID), options.Count().SetLimit(int64(limit)))
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(n), nil
}
