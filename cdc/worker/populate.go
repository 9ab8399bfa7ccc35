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

package worker

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/luftsport/nif-cdc/cdc/model"
)

// populate walks forward in fixed-size windows from resumeFrom (tenant
// creation, or the last seen ordinal) toward now, per spec S4.3. Each
// window acquires a semaphore permit, checks the shutdown flag, fetches
// from the source, and upserts into the change log.
func (w *Worker) populate(ctx context.Context, resumeFrom time.Time) error {
	w.setState(func(s *model.WorkerState) { s.State = model.RunPopulating })

	start := resumeFrom.Add(-w.cfg.OverlapDelta).Add(w.cfg.InitialDelta)
	for {
		if w.shuttingDown() {
			w.setState(func(s *model.WorkerState) { s.State = model.RunTerminated })
			return nil
		}

		end := start.Add(w.cfg.PopulateInterval)
		now := time.Now()
		final := false
		if end.After(now) {
			end = now
			final = true
		}

		if err := w.fetchAndInsertWindow(ctx, start, end); err != nil {
			return errors.Trace(err)
		}
		if w.terminal() {
			return nil
		}
		w.lastWindowEnd = end

		if final {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PopulateGrace):
		}
		start = end
	}

	log.Info("worker caught up, entering sync", zap.Int64("tenant_id", w.cfg.TenantID))
	w.setState(func(s *model.WorkerState) { s.State = model.RunSyncing; s.Mode = model.ModeSync })
	return nil
}

// fetchAndInsertWindow acquires a connection-pool permit, calls the source
// for one window, and inserts every change into the change log. The permit
// is held only for the source call, never across the sink writes.
func (w *Worker) fetchAndInsertWindow(ctx context.Context, from, to time.Time) error {
	if w.deps.Sem != nil {
		if err := w.deps.Sem.Acquire(ctx, 1); err != nil {
			return errors.Trace(err)
		}
	}
	if w.shuttingDown() {
		if w.deps.Sem != nil {
			w.deps.Sem.Release(1)
		}
		return nil
	}

	changes, err := w.deps.Source.GetChanges(ctx, w.cfg.SyncType, from, to)
	if w.deps.Sem != nil {
		w.deps.Sem.Release(1)
	}
	if err != nil {
		return w.onSourceError(ctx, err)
	}
	w.onCleanWindow()

	w.setState(func(s *model.WorkerState) { s.WindowFrom = from; s.WindowTo = to })

	for _, rec := range changes {
		if err := w.upsertChange(ctx, rec); err != nil {
			log.Error("insert change failed", zap.Error(err), zap.Int64("tenant_id", w.cfg.TenantID), zap.Int64("entity_id", rec.EntityID))
		}
	}
	return nil
}
