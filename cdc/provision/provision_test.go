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

package provision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/model"
)

type fakeProvisioner struct {
	created      bool
	authAfter    int
	authAttempts int
}

func (f *fakeProvisioner) Ensure(ctx context.Context, tenant model.Tenant) (model.Credential, bool, error) {
	return model.Credential{Username: "u"}, f.created, nil
}

func (f *fakeProvisioner) Authenticated(ctx context.Context, cred model.Credential) (bool, error) {
	f.authAttempts++
	return f.authAttempts > f.authAfter, nil
}

func TestProvisionSkipsWaitForExistingUser(t *testing.T) {
	p := &fakeProvisioner{created: false}
	cred, created, err := Provision(context.Background(), p, model.Tenant{TenantID: 1}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "u", cred.Username)
	assert.False(t, created)
	assert.Equal(t, 0, p.authAttempts)
}

func TestProvisionWaitsForNewUserToAuthenticate(t *testing.T) {
	p := &fakeProvisioner{created: true, authAfter: 2}
	cfg := Config{PollInterval: time.Millisecond, Ceiling: time.Second, Grace: time.Millisecond}
	cred, created, err := Provision(context.Background(), p, model.Tenant{TenantID: 1}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "u", cred.Username)
	assert.True(t, created)
	assert.GreaterOrEqual(t, p.authAttempts, 3)
}

func TestProvisionTimesOut(t *testing.T) {
	p := &fakeProvisioner{created: true, authAfter: 1000}
	cfg := Config{PollInterval: time.Millisecond, Ceiling: 5 * time.Millisecond, Grace: time.Millisecond}
	_, _, err := Provision(context.Background(), p, model.Tenant{TenantID: 1}, cfg)
	require.Error(t, err)
}

func TestGraceWaitRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GraceWait(ctx, Config{Grace: time.Hour})
	require.Error(t, err)
}
