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

package consumer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
)

type fakeSource struct {
	source.Client
	entities map[int64]source.Entity
}

func (f *fakeSource) GetPerson(ctx context.Context, id int64) (source.Entity, error) {
	return f.entities[id], nil
}

func (f *fakeSource) GetOrganization(ctx context.Context, id int64) (source.Entity, error) {
	return f.entities[id], nil
}

type fakeSinkClient struct {
	sink.Client
	docs map[string]sink.Document
	etag int
}

func key(resource, id string) string { return resource + "/" + id }

func (f *fakeSinkClient) Get(ctx context.Context, resource, id string) (sink.Document, sink.Meta, error) {
	d, ok := f.docs[key(resource, id)]
	if !ok {
		return nil, sink.Meta{}, &sink.ErrNotFound{Resource: resource, ID: id}
	}
	return d, sink.Meta{ID: id, Etag: "e0"}, nil
}

func (f *fakeSinkClient) Insert(ctx context.Context, resource string, docs ...sink.Document) ([]sink.InsertResult, error) {
	for _, d := range docs {
		id, _ := d["_id"].(string)
		if _, exists := f.docs[key(resource, id)]; exists {
			return nil, &sink.ErrAlreadyExists{Resource: resource, Key: id}
		}
		f.docs[key(resource, id)] = d
	}
	return []sink.InsertResult{{Meta: sink.Meta{Etag: "e1"}}}, nil
}

func (f *fakeSinkClient) Replace(ctx context.Context, resource, id, etag string, doc sink.Document) (sink.Meta, error) {
	f.docs[key(resource, id)] = doc
	return sink.Meta{ID: id, Etag: "e1"}, nil
}

func (f *fakeSinkClient) Patch(ctx context.Context, resource, id, etag string, patch sink.Document) (sink.Meta, error) {
	d := f.docs[key(resource, id)]
	for k, v := range patch {
		d[k] = v
	}
	f.docs[key(resource, id)] = d
	return sink.Meta{ID: id, Etag: "e1"}, nil
}

type fakeChangeStore struct {
	sink.Store
	statuses  map[string]model.Status
	watchErrs int
}

func (f *fakeChangeStore) UpdateStatus(ctx context.Context, id string, want model.Status, issues interface{}) (model.WorkItem, error) {
	if f.statuses == nil {
		f.statuses = map[string]model.Status{}
	}
	f.statuses[id] = want
	return model.WorkItem{ID: id, Status: want}, nil
}

func (f *fakeChangeStore) Watch(ctx context.Context, resumeAfter string, pollInterval time.Duration) (<-chan sink.WatchEvent, error) {
	f.watchErrs++
	out := make(chan sink.WatchEvent, 1)
	out <- sink.WatchEvent{Err: assertErr{}}
	close(out)
	return out, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "watch broke" }

func newTestConsumer(t *testing.T, sc *fakeSinkClient) (*Consumer, *fakeChangeStore) {
	store := &fakeChangeStore{}
	c := New(Config{Realm: "prod", ResumeTokenFile: filepath.Join(t.TempDir(), "resume.token")}, Deps{
		Source: &fakeSource{entities: map[int64]source.Entity{
			1: {"name": "person one"},
			7: {"name": "club seven", "type_id": float64(5), "activities": "old", "main_activity": "old"},
		}},
		Sink:   sc,
		Store:  store,
		Tokens: NewTokenStore(filepath.Join(t.TempDir(), "resume.token")),
	})
	return c, store
}

func TestApplyInsertsWhenMissing(t *testing.T) {
	sc := &fakeSinkClient{docs: map[string]sink.Document{}}
	c, store := newTestConsumer(t, sc)

	item := model.WorkItem{ID: "w1", EntityType: model.EntityPerson, EntityID: 1, Status: model.StatusPending}
	require.NoError(t, c.Apply(context.Background(), item, true))

	assert.Contains(t, sc.docs, "persons/process/1", "inserts must target the /process variant so the sink's enrichment runs")
	assert.Equal(t, model.StatusFinished, store.statuses["w1"])
}

func TestApplyPatchesClubPreservingComputedFields(t *testing.T) {
	sc := &fakeSinkClient{docs: map[string]sink.Document{
		"organizations/7":         {"_id": "7", "type_id": float64(5), "activities": "computed", "main_activity": "computed"},
		"organizations/process/7": {"_id": "7", "type_id": float64(5), "activities": "computed", "main_activity": "computed"},
	}}
	c, _ := newTestConsumer(t, sc)

	item := model.WorkItem{ID: "w2", EntityType: model.EntityOrganization, EntityID: 7, Status: model.StatusPending}
	require.NoError(t, c.Apply(context.Background(), item, true))

	doc := sc.docs["organizations/process/7"]
	assert.Equal(t, "computed", doc["activities"], "activities must survive a stream apply")
	assert.Equal(t, "computed", doc["main_activity"], "main_activity must survive a stream apply")
	assert.Equal(t, "club seven", doc["name"])
}

func TestResolveMergeChainCreatesStubs(t *testing.T) {
	sc := &fakeSinkClient{docs: map[string]sink.Document{}}
	c, _ := newTestConsumer(t, sc)

	item := model.WorkItem{EntityType: model.EntityPerson, EntityID: 100, MergedFrom: []int64{98, 99}}
	require.NoError(t, c.resolveMergeChain(context.Background(), item))

	assert.Equal(t, int64(100), sc.docs["persons/process/98"]["merged_to"])
	assert.Equal(t, int64(100), sc.docs["persons/process/99"]["merged_to"])
}

func TestTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.token")
	ts := NewTokenStore(path)

	_, ok, err := ts.Read()
	require.NoError(t, err)
	assert.False(t, ok, "missing file means start from live tail")

	require.NoError(t, ts.Write("abc123"))
	got, ok, err := ts.Read()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)

	require.NoError(t, ts.Reset())
	_, ok, err = ts.Read()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumerRunRestartsThenResetsToken(t *testing.T) {
	store := &fakeChangeStore{}
	tokenPath := filepath.Join(t.TempDir(), "resume.token")
	tokens := NewTokenStore(tokenPath)
	require.NoError(t, tokens.Write("stale"))

	c := New(Config{Realm: "prod", MaxRestarts: 1}, Deps{
		Source: &fakeSource{},
		Sink:   &fakeSinkClient{docs: map[string]sink.Document{}},
		Store:  store,
		Tokens: tokens,
	})

	err := c.Run(context.Background())
	require.Error(t, err, "exhausting restarts and a token reset is fatal to this component")
	assert.GreaterOrEqual(t, store.watchErrs, 3, "expect at least the initial attempt, one restart, and the post-reset attempt")

	_, ok, rerr := tokens.Read()
	require.NoError(t, rerr)
	assert.False(t, ok, "token must be reset after restarts are exhausted")
}
