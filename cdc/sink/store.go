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

package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pingcap/errors"

	"github.com/luftsport/nif-cdc/cdc/model"
)

// changesResource is the integration/changes collection C3 lives in.
const changesResource = "integration/changes"

// Store is C3, the durable work-item queue hosted in the sink.
type Store interface {
	// Append inserts a new work item, idempotent by Ordinal. A duplicate
	// ordinal is reported as model's conflict via ErrAlreadyExists and
	// callers treat it as a silent success.
	Append(ctx context.Context, item model.WorkItem) (model.WorkItem, error)
	// Latest returns the most recent work item for (tenantID, realm),
	// ordered by sequence_ordinal desc, or ok=false if none exists.
	Latest(ctx context.Context, tenantID int64, realm string) (model.WorkItem, bool, error)
	// ListByStatus lists items in any of statuses for realm, capped at limit.
	ListByStatus(ctx context.Context, statuses []model.Status, realm string, limit int) ([]model.WorkItem, error)
	// UpdateStatus performs the optimistic-concurrency status dance
	// described in spec S4.4: re-read on mismatch, treat a server-side
	// status that already matches want as success.
	UpdateStatus(ctx context.Context, id string, want model.Status, issues interface{}) (model.WorkItem, error)
	// Watch tails work items in status ready. resumeAfter is an opaque
	// per-item cursor (the sink _id of the last applied item); the
	// sink-backed implementation does not use it, see store.Watch.
	Watch(ctx context.Context, resumeAfter string, pollInterval time.Duration) (<-chan WatchEvent, error)
}

// WatchEvent is one observation from Watch: either a freshly inserted item
// or a terminal error that ends the stream.
type WatchEvent struct {
	Item model.WorkItem
	Err  error
}

type store struct {
	c Client
}

// NewStore builds a Store over an already-constructed sink Client.
func NewStore(c Client) Store {
	return &store{c: c}
}

func docFromWorkItem(item model.WorkItem) Document {
	b, _ := json.Marshal(item)
	var doc Document
	_ = json.Unmarshal(b, &doc)
	return doc
}

func workItemFromDoc(doc Document, meta Meta) (model.WorkItem, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return model.WorkItem{}, err
	}
	var w model.WorkItem
	if err := json.Unmarshal(b, &w); err != nil {
		return model.WorkItem{}, err
	}
	w.ID = meta.ID
	w.ETag = meta.Etag
	return w, nil
}

func (s *store) Append(ctx context.Context, item model.WorkItem) (model.WorkItem, error) {
	if item.Ordinal == "" {
		item.ComputeOrdinal()
	}
	if item.Status == "" {
		item.Status = model.StatusReady
	}
	results, err := s.c.Insert(ctx, changesResource, docFromWorkItem(item))
	if err != nil {
		return model.WorkItem{}, err
	}
	item.ID = results[0].Meta.ID
	item.ETag = results[0].Meta.Etag
	return item, nil
}

func (s *store) Latest(ctx context.Context, tenantID int64, realm string) (model.WorkItem, bool, error) {
	page, err := s.c.List(ctx, changesResource, Document{"tenant_id": tenantID, "realm": realm}, "-sequence_ordinal", 1)
	if err != nil {
		return model.WorkItem{}, false, err
	}
	if len(page.Items) == 0 {
		return model.WorkItem{}, false, nil
	}
	w, err := workItemFromDoc(page.Items[0], page.Metas[0])
	return w, true, err
}

func (s *store) ListByStatus(ctx context.Context, statuses []model.Status, realm string, limit int) ([]model.WorkItem, error) {
	strs := make([]string, 0, len(statuses))
	for _, st := range statuses {
		strs = append(strs, string(st))
	}
	where := Document{"status": Document{"$in": strs}}
	if realm != "" {
		where["realm"] = realm
	}
	page, err := s.c.List(ctx, changesResource, where, "sequence_ordinal", limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.WorkItem, 0, len(page.Items))
	for i, doc := range page.Items {
		w, err := workItemFromDoc(doc, page.Metas[i])
		if err != nil {
			return nil, errors.Annotatef(err, "decode work item")
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *store) UpdateStatus(ctx context.Context, id string, want model.Status, issues interface{}) (model.WorkItem, error) {
	alreadyApplied := func(cur Document) bool {
		status, _ := cur["status"].(string)
		return model.Status(status) == want
	}
	mutate := func(cur Document) Document {
		patch := Document{"status": string(want)}
		if issues != nil {
			patch["issues"] = issues
		}
		return patch
	}
	meta, err := RetryOptimisticPatch(ctx, s.c, changesResource, id, mutate, alreadyApplied)
	if err != nil {
		return model.WorkItem{}, err
	}
	doc, _, err := s.c.Get(ctx, changesResource, id)
	if err != nil {
		return model.WorkItem{}, err
	}
	return workItemFromDoc(doc, meta)
}

// Watch implements C3's tailing feed by polling ListByStatus(ready) on an
// interval (at most 500 items per poll, any realm), since the sink exposes
// no native long-poll/oplog primitive in this deployment. Each item id is
// delivered at most once per Watch call. resumeAfter is ignored: the first
// poll delivers every item that is ready at that moment, so a new Watch
// does not start from the live tail and redelivers items still in ready.
func (s *store) Watch(ctx context.Context, resumeAfter string, pollInterval time.Duration) (<-chan WatchEvent, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	out := make(chan WatchEvent)
	go func() {
		defer close(out)
		seen := map[string]bool{}
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				items, err := s.ListByStatus(ctx, []model.Status{model.StatusReady}, "", 500)
				if err != nil {
					select {
					case out <- WatchEvent{Err: err}:
					case <-ctx.Done():
					}
					return
				}
				for _, item := range items {
					if seen[item.ID] {
						continue
					}
					seen[item.ID] = true
					select {
					case out <- WatchEvent{Item: item}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
