// Copyright 2019 PingCAP, Inc.
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

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
)

type fakeSource struct{ source.Client }

func (fakeSource) GetChanges(ctx context.Context, kind model.SyncType, from, to time.Time) ([]source.ChangeRecord, error) {
	return nil, nil
}

type fakeStore struct{ sink.Store }

func (fakeStore) Latest(ctx context.Context, tenantID int64, realm string) (model.WorkItem, bool, error) {
	return model.WorkItem{}, false, nil
}

type fakeProvisioner struct{}

func (fakeProvisioner) Ensure(ctx context.Context, tenant model.Tenant) (model.Credential, bool, error) {
	return model.Credential{Username: "u"}, false, nil
}

func (fakeProvisioner) Authenticated(ctx context.Context, cred model.Credential) (bool, error) {
	return true, nil
}

func TestResolveTenantsHonoursExcludeAndGroupMapping(t *testing.T) {
	c := New(Config{
		ExcludeTenants:   map[int64]bool{10: true},
		GroupsAsClubsMap: map[int64]int64{20: 900},
	}, Deps{})

	clubs := []model.Tenant{{TenantID: 1}, {TenantID: 10}, {TenantID: 20}, {TenantID: 900}}
	got := c.resolveTenants(clubs)

	ids := make([]int64, 0, len(got))
	for _, t := range got {
		ids = append(ids, t.TenantID)
	}
	assert.NotContains(t, ids, int64(10))
	assert.Contains(t, ids, int64(900))
	assert.Contains(t, ids, int64(1))
}

func TestStartRegistersFederationWorkers(t *testing.T) {
	c := New(Config{
		SyncTypes:    []model.SyncType{model.SyncChanges, model.SyncPayments},
		StartStagger: time.Millisecond,
	}, Deps{
		Source:      fakeSource{},
		Store:       fakeStore{},
		Provisioner: fakeProvisioner{},
	})

	require.NoError(t, c.Start(context.Background(), nil))
	c.mu.RLock()
	_, hasPayments := c.workers[registryKey{tenantID: 0, syncType: model.SyncPayments}]
	c.mu.RUnlock()
	assert.True(t, hasPayments)

	require.NoError(t, c.Shutdown())
}
