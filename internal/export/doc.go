// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

/*
Package export implements the participant data export pipeline.

An export request creates a job record and returns immediately; the job runs
in its own goroutine, builds a zip archive at the requested level, uploads it
to durable blob storage, and records a signed download URL on the job. Levels:

  - Level 1: participant metadata, EMA check-ins, safety alerts
  - Level 2: level 1 plus the raw event stream (with OCR data)
  - Level 3: level 2 plus screenshot binaries, fetched concurrently

Job state machine: pending → processing → {completed | failed | cancelled}.
The job record is the sole source of truth for progress; clients poll it.
A job only completes after its archive has been durably uploaded — a local
archive alone is not a successful export.

Screenshot fetches run through a bounded worker pool over a shared pooled
HTTP client, rate limited and wrapped in a circuit breaker so a dying origin
store degrades the job instead of hammering the origin.
*/
package export
