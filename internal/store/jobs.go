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

// CreateJob persists a new export job record.
func (s *Store) CreateJob(ctx context.Context, job *models.ExportJob) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("insert", "export_jobs")(&err)

	if _, err := s.exportJobs.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// Job returns a single export job by ID.
func (s *Store) Job(ctx context.Context, id string) (_ *models.ExportJob, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find_one", "export_jobs")(&err)

	var job models.ExportJob
	err = s.exportJobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if mapNotFound(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find export job: %w", err)
	}
	return &job, nil
}

// UpdateJob applies a partial $set update to a job record.
func (s *Store) UpdateJob(ctx context.Context, id string, fields bson.M) (err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("update", "export_jobs")(&err)

	res, err := s.exportJobs.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimJob transitions a job from pending to processing atomically.
// Returns false when the job was already claimed, cancelled, or missing, so
// only one worker ever processes a given job.
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (_ bool, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("update", "export_jobs")(&err)

	res, err := s.exportJobs.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.JobPending},
		bson.M{"$set": bson.M{
			"status":    models.JobProcessing,
			"startedAt": now.UTC(),
		}})
	if err != nil {
		return false, fmt.Errorf("claim export job: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// TryCancelJob marks a job cancelled if it is still pending or processing.
// The updated record is returned; ErrNotFound means the job either does not
// exist or had already reached a terminal state.
func (s *Store) TryCancelJob(ctx context.Context, id string, now time.Time) (_ *models.ExportJob, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("update", "export_jobs")(&err)

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{models.JobPending, models.JobProcessing}},
	}
	update := bson.M{"$set": bson.M{
		"status":      models.JobCancelled,
		"completedAt": now.UTC(),
	}}

	var job models.ExportJob
	err = s.exportJobs.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&job)
	if err != nil {
		if mapNotFound(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cancel export job: %w", err)
	}
	return &job, nil
}

// JobsByRequester returns a user's export jobs, newest first.
func (s *Store) JobsByRequester(ctx context.Context, email string, limit int) (_ []*models.ExportJob, err error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	defer track("find", "export_jobs")(&err)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.exportJobs.Find(ctx, bson.M{"createdBy": email}, opts)
	if err != nil {
		return nil, fmt.Errorf("find export jobs: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.ExportJob
	for cur.Next(ctx) {
		var job models.ExportJob
		if err := cur.Decode(&job); err != nil {
			continue
		}
		out = append(out, &job)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("export jobs cursor: %w", err)
	}

	return out, nil
}
