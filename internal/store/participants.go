// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/socialscope/scopeboard/internal/models"
)

// EnrolledParticipants returns every enrolled participant from both
// registries. The legacy registry is scanned first, then the current one;
// when the same participant ID appears in both, the first occurrence wins so
// legacy enrollment metadata is preserved.
func (s *Store) EnrolledParticipants(ctx context.Context) (_ []*models.Participant, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "participants")(&err)

	seen := make(map[string]bool)
	var out []*models.Participant

	for _, coll := range []*namedColl{
		{s.participants, s.cfg.ParticipantsCollection},
		{s.validParticipants, s.cfg.ValidParticipantsCollection},
	} {
		cur, err := coll.c.Find(ctx, bson.M{})
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", coll.name, err)
		}

		for cur.Next(ctx) {
			var p models.Participant
			if err := cur.Decode(&p); err != nil {
				// One malformed registry record must not hide the cohort.
				continue
			}
			id := p.Key()
			if id == "" || seen[id] {
				continue
			}
			if !p.Enrolled() {
				continue
			}
			seen[id] = true
			out = append(out, &p)
		}
		if err := cur.Err(); err != nil {
			_ = cur.Close(ctx)
			return nil, fmt.Errorf("cursor %s: %w", coll.name, err)
		}
		_ = cur.Close(ctx)
	}

	return out, nil
}

// Participant looks up a single participant by ID in either registry,
// preferring the legacy registry for consistency with EnrolledParticipants.
func (s *Store) Participant(ctx context.Context, id string) (_ *models.Participant, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find_one", "participants")(&err)

	filter := bson.M{"$or": bson.A{
		bson.M{"_id": id},
		bson.M{"participantId": id},
	}}

	for _, coll := range []*namedColl{
		{s.participants, s.cfg.ParticipantsCollection},
		{s.validParticipants, s.cfg.ValidParticipantsCollection},
	} {
		var p models.Participant
		err := coll.c.FindOne(ctx, filter).Decode(&p)
		if err == nil {
			return &p, nil
		}
		if mapNotFound(err) != ErrNotFound {
			return nil, fmt.Errorf("find %s: %w", coll.name, err)
		}
	}

	return nil, ErrNotFound
}
