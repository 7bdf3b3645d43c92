// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package models defines the shared data structures for Scopeboard.
//
// The study's client devices sync records with inconsistent field encodings:
// timestamps arrive either as native datetimes or ISO-8601 strings, and
// check-in response maps arrive either as structured documents or as
// JSON-encoded strings. The FlexTime and FlexMap types absorb that variance
// at the decode boundary so that every other package only ever sees a
// canonical UTC instant and a canonical map.
package models
