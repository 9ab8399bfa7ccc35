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

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/model"
)

const sample = `
realm = "no.nif.test"
changes_sync_interval = 120
sync_max_errors = 5
exclude_tenants = [10, 20]

[source]
endpoint = "https://federation.example/soap"
app_id = "app-1"

[sink]
base_url = "https://sink.example/api"

[groups_as_clubs_mapping]
"200" = 900
"201" = 901
`

func writeSample(t *testing.T, dir string) string {
	path := filepath.Join(dir, "nif-cdc.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sample), 0644))
	return path
}

func TestLoadAppliesDefaultsAndParsesTables(t *testing.T) {
	path := writeSample(t, t.TempDir())
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "no.nif.test", cfg.Realm)
	assert.Equal(t, 120, cfg.ChangesSyncInterval)
	assert.Equal(t, int64(10), cfg.ConnectionPoolSize)
	assert.Equal(t, "https://federation.example/soap", cfg.Source.Endpoint)
	assert.Equal(t, "https://sink.example/api", cfg.Sink.BaseURL)

	excludes := cfg.ExcludeTenantSet()
	assert.True(t, excludes[10])
	assert.True(t, excludes[20])

	groups, err := cfg.GroupsAsClubsMap()
	require.NoError(t, err)
	assert.Equal(t, int64(900), groups[200])
	assert.Equal(t, int64(901), groups[201])
}

func TestLoadDefaultsSyncTypesToAll(t *testing.T) {
	path := writeSample(t, t.TempDir())
	cfg, err := Load(path)
	require.NoError(t, err)

	types, err := cfg.ParsedSyncTypes()
	require.NoError(t, err)
	assert.ElementsMatch(t, model.AllSyncTypes, types)
}

func TestParsedSyncTypesRejectsUnknown(t *testing.T) {
	cfg := &Config{SyncTypes: []string{"bogus"}}
	_, err := cfg.ParsedSyncTypes()
	assert.Error(t, err)
}

func TestIntervalDurationsUseDocumentedUnits(t *testing.T) {
	cfg := &Config{ChangesSyncInterval: 5, PopulateInterval: 24, SyncDelay: 30}
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval(), "changes_sync_interval is documented in minutes")
	assert.Equal(t, 24*time.Hour, cfg.PopulateIntervalDuration(), "populate_interval is documented in hours")
	assert.Equal(t, 30*time.Second, cfg.SyncDelayDuration(), "sync_delay is documented in seconds")
}
