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

// statusCacheDocID is the fixed document ID for the overall dashboard status
// cache. The cache is a single document replaced atomically on refresh.
const statusCacheDocID = "overall_status"

// LoadStatusCache returns the persisted dashboard status cache, or
// ErrNotFound when no refresh has ever completed.
func (s *Store) LoadStatusCache(ctx context.Context) (_ *models.OverallStatusCache, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find_one", "cache")(&err)

	var doc models.OverallStatusCache
	err = s.cache.FindOne(ctx, bson.M{"_id": statusCacheDocID}).Decode(&doc)
	if err != nil {
		if mapNotFound(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load status cache: %w", err)
	}
	return &doc, nil
}

// SaveStatusCache replaces the persisted status cache in one upsert, so
// dashboard readers never observe a partially written document.
func (s *Store) SaveStatusCache(ctx context.Context, doc *models.OverallStatusCache) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("replace", "cache")(&err)

	_, err = s.cache.ReplaceOne(ctx,
		bson.M{"_id": statusCacheDocID},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save status cache: %w", err)
	}
	return nil
}
