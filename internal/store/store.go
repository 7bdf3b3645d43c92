// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/metrics"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// Store is the MongoDB persistence layer. All methods are safe for
// concurrent use; the underlying mongo.Client manages its own pool.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    config.MongoConfig

	participants      *mongo.Collection
	validParticipants *mongo.Collection
	events            *mongo.Collection
	checkins          *mongo.Collection
	safetyAlerts      *mongo.Collection
	cache             *mongo.Collection
	exportJobs        *mongo.Collection
	dashboardUsers    *mongo.Collection
	alertRecipients   *mongo.Collection
}

// Connect establishes a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		db:     db,
		cfg:    cfg,

		participants:      db.Collection(cfg.ParticipantsCollection),
		validParticipants: db.Collection(cfg.ValidParticipantsCollection),
		events:            db.Collection(cfg.EventsCollection),
		checkins:          db.Collection(cfg.CheckinsCollection),
		safetyAlerts:      db.Collection(cfg.SafetyAlertsCollection),
		cache:             db.Collection(cfg.CacheCollection),
		exportJobs:        db.Collection(cfg.ExportJobsCollection),
		dashboardUsers:    db.Collection(cfg.DashboardUsersCollection),
		alertRecipients:   db.Collection(cfg.AlertRecipientsCollection),
	}

	logging.WithComponent("store").Info().
		Str("database", cfg.Database).
		Msg("Connected to MongoDB")

	return s, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies the connection is still healthy. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// queryCtx derives a bounded context for a single query.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

// track times one query for the database metrics. Use with a named error
// return:
//
//	defer track("find", "events")(&err)
func track(operation, collection string) func(*error) {
	started := time.Now()
	return func(errp *error) {
		err := *errp
		if errors.Is(err, ErrNotFound) {
			// A miss is an answer, not a query failure.
			err = nil
		}
		metrics.RecordDBQuery(operation, collection, time.Since(started), err)
	}
}

// timeRangeFilter matches a time field stored either as a native BSON
// datetime or as an ISO-8601 string. Both branches cover [start, end).
func timeRangeFilter(field string, start, end time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{field: bson.M{
			"$gte": primitive.NewDateTimeFromTime(start.UTC()),
			"$lt":  primitive.NewDateTimeFromTime(end.UTC()),
		}},
		bson.M{field: bson.M{
			"$gte": start.UTC().Format(time.RFC3339),
			"$lt":  end.UTC().Format(time.RFC3339),
		}},
	}}
}

// eitherFieldInRange matches records whose primary or fallback time field
// falls in [start, end). Decoded records still need exact in-memory
// filtering because string comparison is only approximate across formats.
func eitherFieldInRange(primaryField, fallbackField string, start, end time.Time) bson.M {
	return bson.M{"$or": bson.A{
		timeRangeFilter(primaryField, start, end),
		timeRangeFilter(fallbackField, start, end),
	}}
}

// namedColl pairs a collection handle with its configured name for error
// messages.
type namedColl struct {
	c    *mongo.Collection
	name string
}

func mapNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
