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

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/pkg/metrics"
)

// syncLoop runs the steady-state scheduler described in spec S4.3: a tick
// fires every SyncInterval and each fire advances the window from
// lastWindowEnd toward now.
func (w *Worker) syncLoop(ctx context.Context) error {
	w.setState(func(s *model.WorkerState) { s.State = model.RunSyncing; s.Mode = model.ModeSync })

	sched := newScheduler(w.cfg.SyncInterval, func() {
		w.setState(func(s *model.WorkerState) { s.Misfires++ })
		metrics.Misfires.WithLabelValues(tenantLabel(w.cfg.TenantID), string(w.cfg.SyncType)).Inc()
	})

	sched.Run(ctx, func(ctx context.Context) bool {
		if w.shuttingDown() {
			w.setState(func(s *model.WorkerState) {
				s.State = model.RunTerminated
				s.Reason = "shutdown requested"
			})
			return false
		}
		w.setState(func(s *model.WorkerState) { s.NextRunTime = time.Now().Add(w.cfg.SyncInterval) })
		w.tick(ctx)
		w.decrementMisfireOnFire()
		return !w.terminal()
	})
	return nil
}

// decrementMisfireOnFire implements "decremented on each successful fire"
// from spec S4.3: a sustained scheduling bias shows up as a misfire count
// that never reaches zero even though every successful tick nudges it down.
func (w *Worker) decrementMisfireOnFire() {
	w.setState(func(s *model.WorkerState) {
		if s.Misfires > 0 {
			s.Misfires--
		}
	})
}

// tick is one scheduler fire: compute the window, fetch, insert, advance.
func (w *Worker) tick(ctx context.Context) {
	end := time.Now()
	start := w.lastWindowEnd.Add(w.cfg.InitialDelta)
	if !end.After(start) {
		log.Warn("sync window inconsistency, skipping tick",
			zap.Int64("tenant_id", w.cfg.TenantID), zap.Time("start", start), zap.Time("end", end))
		return
	}
	if err := w.fetchAndInsertWindow(ctx, start, end); err != nil {
		log.Error("sync tick failed", zap.Error(err), zap.Int64("tenant_id", w.cfg.TenantID))
		return
	}
	w.lastWindowEnd = end
	metrics.WindowLagSeconds.WithLabelValues(tenantLabel(w.cfg.TenantID), string(w.cfg.SyncType)).Set(time.Since(end).Seconds())
}
