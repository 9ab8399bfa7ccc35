// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon's on-disk toml configuration into the
// per-component Config structs cdc/worker, cdc/source, cdc/sink,
// cdc/coordinator and cdc/provision take as input.
package config

import (
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/luftsport/nif-cdc/cdc/model"
)

// SourceConfig is the [source] table: the federation API endpoint and the
// app-level credential bootstrapping every tenant's login is built from.
type SourceConfig struct {
	Endpoint         string `toml:"endpoint"`
	AppID            string `toml:"app_id"`
	PlatformUsername string `toml:"platform_username"`
	PlatformPassword string `toml:"platform_password"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	SyncDelaySeconds int    `toml:"sync_delay_seconds"`
}

// SinkConfig is the [sink] table: the Eve-like REST API this daemon writes
// change records and processed entities into.
type SinkConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RPCConfig is the [rpc] table: the control-plane listen address.
type RPCConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// StreamConfig is the [stream] table: where the live consumer's resume
// token is persisted.
type StreamConfig struct {
	ResumeTokenFile string `toml:"resume_token_file"`
}

// LogConfig is the [log] table, loaded straight into util.Config.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Config is the full nif-cdc.toml shape: spec.md's configuration surface
// table (realm through groups_as_clubs_mapping) plus the source/sink/rpc/
// stream/log tables SPEC_FULL.md's ambient stack adds.
type Config struct {
	Realm                 string           `toml:"realm"`
	ChangesSyncInterval   int              `toml:"changes_sync_interval"`
	PopulateInterval      int              `toml:"populate_interval"`
	SyncMaxErrors         int              `toml:"sync_max_errors"`
	SyncDelay             int              `toml:"sync_delay"`
	ConnectionPoolSize    int64            `toml:"connection_pool_size"`
	SyncTypes             []string         `toml:"sync_types"`
	GeocodeEnabled        bool             `toml:"geocode_enabled"`
	ExcludeTenants        []int64          `toml:"exclude_tenants"`
	GroupsAsClubsMapping  map[string]int64 `toml:"groups_as_clubs_mapping"`

	Source SourceConfig `toml:"source"`
	Sink   SinkConfig   `toml:"sink"`
	RPC    RPCConfig    `toml:"rpc"`
	Stream StreamConfig `toml:"stream"`
	Log    LogConfig    `toml:"log"`
}

// Load reads and parses the toml file at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	cfg.adjust()
	return cfg, nil
}

func (c *Config) adjust() {
	if c.ChangesSyncInterval <= 0 {
		c.ChangesSyncInterval = 5
	}
	if c.PopulateInterval <= 0 {
		c.PopulateInterval = 24
	}
	if c.SyncMaxErrors <= 0 {
		c.SyncMaxErrors = 10
	}
	if c.ConnectionPoolSize <= 0 {
		c.ConnectionPoolSize = 10
	}
	if len(c.SyncTypes) == 0 {
		for _, st := range model.AllSyncTypes {
			c.SyncTypes = append(c.SyncTypes, string(st))
		}
	}
}

// ParsedSyncTypes validates and converts SyncTypes into model.SyncType.
func (c *Config) ParsedSyncTypes() ([]model.SyncType, error) {
	out := make([]model.SyncType, 0, len(c.SyncTypes))
	for _, raw := range c.SyncTypes {
		st := model.SyncType(raw)
		if !st.Valid() {
			return nil, errors.Errorf("unknown sync type %q", raw)
		}
		out = append(out, st)
	}
	return out, nil
}

// ExcludeTenantSet converts ExcludeTenants into the map cdc/coordinator
// expects.
func (c *Config) ExcludeTenantSet() map[int64]bool {
	out := make(map[int64]bool, len(c.ExcludeTenants))
	for _, id := range c.ExcludeTenants {
		out[id] = true
	}
	return out
}

// GroupsAsClubsMap converts the string-keyed toml table into the int64/int64
// map cdc/coordinator expects; toml has no integer-keyed table syntax.
func (c *Config) GroupsAsClubsMap() (map[int64]int64, error) {
	out := make(map[int64]int64, len(c.GroupsAsClubsMapping))
	for rawGroup, club := range c.GroupsAsClubsMapping {
		group, err := strconv.ParseInt(rawGroup, 10, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "parse group id %q", rawGroup)
		}
		out[group] = club
	}
	return out, nil
}

// SyncInterval returns the configured changes sync interval as a duration.
// changes_sync_interval is documented in minutes.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.ChangesSyncInterval) * time.Minute
}

// PopulateIntervalDuration returns the configured populate interval as a
// duration. populate_interval is documented in hours.
func (c *Config) PopulateIntervalDuration() time.Duration {
	return time.Duration(c.PopulateInterval) * time.Hour
}

// SyncDelayDuration returns the configured source call pacing delay.
func (c *Config) SyncDelayDuration() time.Duration {
	return time.Duration(c.SyncDelay) * time.Second
}
