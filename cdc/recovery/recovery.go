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

// Package recovery implements the out-of-band sweep that reprocesses work
// items stuck in ready, pending or error through the same apply path the
// stream consumer uses.
package recovery

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/luftsport/nif-cdc/cdc/consumer"
	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/pkg/metrics"
)

// pageSize caps one sweep: sweep makes a single ListByStatus call for at
// most pageSize items and does not fetch further pages. When a call returns
// exactly pageSize items the Result is marked Truncated and the remaining
// items are left for a later sweep.
const pageSize = 1000

// Sweeper replays non-terminal work items through a Consumer's apply path.
type Sweeper struct {
	Store    sink.Store
	Consumer *consumer.Consumer
	Realm    string
}

// Result summarises one sweep invocation.
type Result struct {
	Scanned   int
	Applied   int
	Failed    int
	Truncated bool
}

// SweepReady processes every item in status=ready, the routine clean-up
// path run after long downtime.
func (s *Sweeper) SweepReady(ctx context.Context) (Result, error) {
	return s.sweep(ctx, []model.Status{model.StatusReady})
}

// SweepStuck processes items in pending or error; cmd/syncd runs it every
// five minutes.
func (s *Sweeper) SweepStuck(ctx context.Context) (Result, error) {
	return s.sweep(ctx, []model.Status{model.StatusPending, model.StatusError})
}

func (s *Sweeper) sweep(ctx context.Context, statuses []model.Status) (Result, error) {
	unlock := s.Consumer.LockResumeToken()
	defer unlock()

	var res Result
	items, err := s.Store.ListByStatus(ctx, statuses, s.Realm, pageSize)
	if err != nil {
		return res, errors.Trace(err)
	}
	res.Scanned = len(items)
	if len(items) == pageSize {
		res.Truncated = true
		log.Warn("recovery sweep hit the page size ceiling, results may be incomplete", zap.Int("page_size", pageSize))
	}

	for _, item := range items {
		// A ready/error item still needs its status nudged back to
		// pending before Apply can carry it to finished -- Apply itself
		// only ever writes pending -> {finished, error}.
		if item.Status != model.StatusPending {
			updated, err := s.Store.UpdateStatus(ctx, item.ID, model.StatusPending, nil)
			if err != nil {
				log.Error("recovery: failed to mark item pending", zap.Error(err), zap.String("id", item.ID))
				res.Failed++
				metrics.RecoverySweepItems.WithLabelValues("failed").Inc()
				continue
			}
			item = updated
		}

		if err := s.Consumer.Apply(ctx, item, false); err != nil {
			log.Warn("recovery: item still failing", zap.Error(err), zap.String("id", item.ID))
			res.Failed++
			metrics.RecoverySweepItems.WithLabelValues("failed").Inc()
			continue
		}
		res.Applied++
		metrics.RecoverySweepItems.WithLabelValues("applied").Inc()
	}
	return res, nil
}
