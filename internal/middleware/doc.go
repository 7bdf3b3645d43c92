// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package middleware provides HTTP middleware shared across the API:
// request-ID propagation, Prometheus instrumentation, and source-IP
// allowlisting for the privileged admin surface.
package middleware
