// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package services

import (
	"context"
)

// CacheLoop matches the alert cache manager's lifecycle methods.
type CacheLoop interface {
	Start() error
	Stop() error
}

// AlertCacheService runs the safety-alert refresh loop under supervision:
// Start on entry, Stop (which waits for the in-flight tick) on cancellation.
type AlertCacheService struct {
	loop CacheLoop
}

// NewAlertCacheService wraps the alert cache loop as a supervised service.
func NewAlertCacheService(loop CacheLoop) *AlertCacheService {
	return &AlertCacheService{loop: loop}
}

// Serve implements suture.Service.
func (s *AlertCacheService) Serve(ctx context.Context) error {
	if err := s.loop.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.loop.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *AlertCacheService) String() string {
	return "alert-cache"
}
