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

package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/consumer"
	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
)

type fakeSource struct {
	source.Client
}

func (fakeSource) GetPerson(ctx context.Context, id int64) (source.Entity, error) {
	return source.Entity{"name": "recovered"}, nil
}

type fakeSinkClient struct {
	sink.Client
	docs map[string]sink.Document
}

func (f *fakeSinkClient) Get(ctx context.Context, resource, id string) (sink.Document, sink.Meta, error) {
	d, ok := f.docs[resource+"/"+id]
	if !ok {
		return nil, sink.Meta{}, &sink.ErrNotFound{Resource: resource, ID: id}
	}
	return d, sink.Meta{Etag: "e0"}, nil
}

func (f *fakeSinkClient) Insert(ctx context.Context, resource string, docs ...sink.Document) ([]sink.InsertResult, error) {
	for _, d := range docs {
		id, _ := d["_id"].(string)
		f.docs[resource+"/"+id] = d
	}
	return []sink.InsertResult{{Meta: sink.Meta{Etag: "e1"}}}, nil
}

type fakeStore struct {
	sink.Store
	items    []model.WorkItem
	statuses map[string]model.Status
}

func (f *fakeStore) ListByStatus(ctx context.Context, statuses []model.Status, realm string, limit int) ([]model.WorkItem, error) {
	return f.items, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, want model.Status, issues interface{}) (model.WorkItem, error) {
	if f.statuses == nil {
		f.statuses = map[string]model.Status{}
	}
	f.statuses[id] = want
	for _, it := range f.items {
		if it.ID == id {
			it.Status = want
			return it, nil
		}
	}
	return model.WorkItem{ID: id, Status: want}, nil
}

func TestSweepReadyAppliesEveryItem(t *testing.T) {
	store := &fakeStore{items: []model.WorkItem{
		{ID: "w1", EntityType: model.EntityPerson, EntityID: 1, Status: model.StatusReady},
	}}
	c := consumer.New(consumer.Config{Realm: "prod"}, consumer.Deps{
		Source: fakeSource{},
		Sink:   &fakeSinkClient{docs: map[string]sink.Document{}},
		Store:  store,
		Tokens: consumer.NewTokenStore(filepath.Join(t.TempDir(), "resume.token")),
	})

	s := &Sweeper{Store: store, Consumer: c, Realm: "prod"}
	res, err := s.SweepReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, model.StatusFinished, store.statuses["w1"])
}

func TestSweepDoesNotWriteResumeTokenDuringRecovery(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "resume.token")
	tokens := consumer.NewTokenStore(tokenPath)
	require.NoError(t, tokens.Write("untouched"))

	store := &fakeStore{items: []model.WorkItem{
		{ID: "w2", EntityType: model.EntityPerson, EntityID: 2, Status: model.StatusError},
	}}
	c := consumer.New(consumer.Config{Realm: "prod"}, consumer.Deps{
		Source: fakeSource{},
		Sink:   &fakeSinkClient{docs: map[string]sink.Document{}},
		Store:  store,
		Tokens: tokens,
	})

	s := &Sweeper{Store: store, Consumer: c, Realm: "prod"}
	_, err := s.SweepStuck(context.Background())
	require.NoError(t, err)

	got, ok, err := tokens.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "untouched", got, "recovery must never move the live resume token")
}
