// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks that required configuration is present and valid.
// Struct tags cover range and enum checks; cross-field rules that tags
// cannot express are checked explicitly.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			f := errs[0]
			return fmt.Errorf("invalid config field %s: failed %q check (value %v)",
				f.Namespace(), f.Tag(), f.Value())
		}
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	return c.validateMongoURI()
}

func (c *Config) validateSecurity() error {
	// Auth secrets are mandatory in production only, so local development
	// works out of the box.
	if c.Server.Environment == "production" {
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Security.SchedulerSecret == "" {
			return fmt.Errorf("SCHEDULER_SECRET is required in production")
		}
	}

	for _, cidr := range c.Security.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			// Accept bare IPs as /32 equivalents.
			if net.ParseIP(cidr) == nil {
				return fmt.Errorf("ALLOWED_CIDRS entry %q is not a valid CIDR or IP", cidr)
			}
		}
	}

	return nil
}

func (c *Config) validateMongoURI() error {
	if !strings.HasPrefix(c.Mongo.URI, "mongodb://") && !strings.HasPrefix(c.Mongo.URI, "mongodb+srv://") {
		return fmt.Errorf("MONGO_URI must start with mongodb:// or mongodb+srv://")
	}
	return nil
}
