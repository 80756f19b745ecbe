// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Config is a pool configuration loaded from a TOML document, for callers
// that drive pool parameters from a file:
//
//	size = 8
//	keepalive_interval = "30s"
//
//	[backoff]
//	min = "100ms"
//	max = "400s"
//	jitter = true
//
// Only size is required. Probes, factories, and classifiers are code, not
// configuration, and are passed to New directly.
type Config struct {
	Size      int
	Keepalive time.Duration
	Backoff   Backoff
}

type fileConfig struct {
	Size              int         `toml:"size"`
	KeepaliveInterval string      `toml:"keepalive_interval"`
	Backoff           fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	Min    string `toml:"min"`
	Max    string `toml:"max"`
	Jitter *bool  `toml:"jitter"`
}

// ParseConfig parses a TOML pool configuration, applying defaults for every
// omitted field. Invalid documents are rejected with a ConfigError.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, ConfigError{Wrapped: errors.Wrap(err, "parsing pool config")}
	}
	if fc.Size <= 0 {
		return nil, ConfigError{Wrapped: fmt.Errorf("pool size must be positive, got %d", fc.Size)}
	}

	cfg := &Config{Size: fc.Size, Backoff: DefaultBackoff()}

	var err error
	if cfg.Keepalive, err = parseDuration(fc.KeepaliveInterval, 0); err != nil {
		return nil, ConfigError{Wrapped: errors.Wrap(err, "parsing keepalive_interval")}
	}
	if cfg.Backoff.Min, err = parseDuration(fc.Backoff.Min, cfg.Backoff.Min); err != nil {
		return nil, ConfigError{Wrapped: errors.Wrap(err, "parsing backoff.min")}
	}
	if cfg.Backoff.Max, err = parseDuration(fc.Backoff.Max, cfg.Backoff.Max); err != nil {
		return nil, ConfigError{Wrapped: errors.Wrap(err, "parsing backoff.max")}
	}
	if fc.Backoff.Jitter != nil {
		cfg.Backoff.Jitter = *fc.Backoff.Jitter
	}

	if cfg.Keepalive < 0 {
		return nil, ConfigError{Wrapped: fmt.Errorf("keepalive_interval must be non-negative, got %v", cfg.Keepalive)}
	}
	if cfg.Backoff.Min <= 0 || cfg.Backoff.Max < cfg.Backoff.Min {
		return nil, ConfigError{Wrapped: fmt.Errorf("backoff must satisfy 0 < min <= max, got min=%v max=%v", cfg.Backoff.Min, cfg.Backoff.Max)}
	}
	return cfg, nil
}

// Options lowers a parsed Config to pool options for New. The probe is code,
// not configuration, so it is supplied here; keepalive is enabled with the
// config's interval only when both the interval is positive and probe is
// non-nil. Size stays with the caller, since New takes it positionally.
func Options[C any](cfg *Config, probe Probe[C]) []Option[C] {
	opts := []Option[C]{WithBackoff[C](cfg.Backoff)}
	if cfg.Keepalive > 0 && probe != nil {
		opts = append(opts, WithKeepalive(cfg.Keepalive, probe))
	}
	return opts
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
