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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
)

type fakeSourceClient struct {
	source.Client
	created source.UserRecord
	hello   bool
}

func (f *fakeSourceClient) CreateIntegrationUser(ctx context.Context, tenantID int64, firstName, lastName, password string) (source.UserRecord, error) {
	return f.created, nil
}

func (f *fakeSourceClient) Hello(ctx context.Context) (bool, error) {
	return f.hello, nil
}

type fakeSinkClient struct {
	sink.Client
	docs map[string]sink.Document
}

func (f *fakeSinkClient) Get(ctx context.Context, resource, id string) (sink.Document, sink.Meta, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, sink.Meta{}, &sink.ErrNotFound{Resource: resource, ID: id}
	}
	return doc, sink.Meta{ID: id}, nil
}

func (f *fakeSinkClient) Insert(ctx context.Context, resource string, docs ...sink.Document) ([]sink.InsertResult, error) {
	for _, d := range docs {
		id, _ := d["_id"].(string)
		f.docs[id] = d
	}
	return nil, nil
}

func TestEnsureCreatesNewIntegrationUserWhenMissing(t *testing.T) {
	src := &fakeSourceClient{created: source.UserRecord{UserID: 42, FunctionID: 7}}
	snk := &fakeSinkClient{docs: map[string]sink.Document{}}
	p := &SourceProvisioner{Source: src, Sink: snk, AppID: "app-1"}

	cred, created, err := p.Ensure(context.Background(), model.Tenant{TenantID: 1, Name: "Test Club"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "app-1", cred.AppID)
	assert.Equal(t, "7", cred.FunctionID)
	assert.Equal(t, "42", cred.Username)
	assert.Contains(t, snk.docs, "1")
}

func TestEnsureReturnsExistingUserWithoutRecreating(t *testing.T) {
	src := &fakeSourceClient{}
	snk := &fakeSinkClient{docs: map[string]sink.Document{
		"1": {"_id": "1", "app_id": "app-1", "function_id": "7", "username": "42", "password": ""},
	}}
	p := &SourceProvisioner{Source: src, Sink: snk, AppID: "app-1"}

	cred, created, err := p.Ensure(context.Background(), model.Tenant{TenantID: 1})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "42", cred.Username)
}

func TestAuthenticatedDelegatesToSourceHello(t *testing.T) {
	src := &fakeSourceClient{hello: true}
	p := &SourceProvisioner{Source: src}

	ok, err := p.Authenticated(context.Background(), model.Credential{})
	require.NoError(t, err)
	assert.True(t, ok)
}
