// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

/*
Package store provides MongoDB-backed persistence for Scopeboard.

The store wraps a single mongo.Client and exposes typed accessors for the
study collections: participant registries, captured events, EMA check-ins,
safety alerts, the dashboard status cache, export jobs, dashboard users, and
alert recipients.

# Heterogeneous timestamps

Collection apps wrote timestamps inconsistently over the study lifetime: some
records carry native BSON datetimes, others ISO-8601 strings. Range queries
therefore match both encodings with an $or predicate, and callers re-filter
decoded records through models.FlexTime for exact boundaries.

# Error handling

Lookups that miss return ErrNotFound (wrapping mongo.ErrNoDocuments) so
callers can branch with errors.Is without importing the driver.
*/
package store
