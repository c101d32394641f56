// Voxtime - Guild Presence Tracking and Activity Analytics
// Copyright 2026 Voxtime Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/voxtime/voxtime

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. It returns the first problem found.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid config field %s: failed %q rule (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}

	if c.Cache.ActivityTTL <= 0 || c.Cache.SettingsTTL <= 0 || c.Cache.ReportTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Tracker.SessionTTL <= 0 {
		return fmt.Errorf("tracker.session_ttl must be positive")
	}
	if c.Tracker.StalenessBound > c.Tracker.SessionTTL {
		return fmt.Errorf("tracker.staleness_bound (%s) must not exceed tracker.session_ttl (%s): "+
			"sessions would be recovered after their cache records expired",
			c.Tracker.StalenessBound, c.Tracker.SessionTTL)
	}
	if c.Report.BackoffBase <= 0 {
		return fmt.Errorf("report.backoff_base must be positive")
	}
	if c.Report.ProgressInterval <= 0 {
		return fmt.Errorf("report.progress_interval must be positive")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis.enabled is true")
	}
	if c.WAL.Enabled && c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required when wal.enabled is true")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats.enabled is true")
		}
		if c.NATS.Stream == "" || c.NATS.Subject == "" {
			return fmt.Errorf("nats.stream and nats.subject are required when nats.enabled is true")
		}
	}

	return nil
}
