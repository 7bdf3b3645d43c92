// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

/*
Package config provides centralized configuration management for Scopeboard.

Configuration is loaded in three layers with clear precedence:

 1. Defaults: built-in sensible defaults for every optional setting
 2. Config File: optional YAML config file (config.yaml) for persistent settings
 3. Environment Variables: override any setting (highest priority)

The package organizes configuration into logical groups:

  - ServerConfig: HTTP server settings (host, port, timeouts)
  - MongoConfig: MongoDB connection and collection settings
  - SecurityConfig: JWT auth, scheduler secret, IP allowlist, rate limiting, CORS
  - CacheConfig: dashboard status cache and safety-alert cache tuning
  - ExportConfig: export job engine settings (workers, staging dir, URL expiry)
  - LoggingConfig: log level and output format

Config is immutable after Load() and safe for concurrent read access.
*/
package config
