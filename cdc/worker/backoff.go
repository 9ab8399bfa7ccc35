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

// onSourceError implements the back-pressure policy from spec S4.3: on a
// transport failure, bump sync_errors and sleep a linear back-off of
// 3*sync_errors seconds before returning. When the streak reaches
// max_errors the worker terminates itself and notifies its Coordinator.
func (w *Worker) onSourceError(ctx context.Context, err error) error {
	var errCount int
	w.setState(func(s *model.WorkerState) {
		s.SyncErrors++
		errCount = s.SyncErrors
	})
	log.Warn("source call failed", zap.Error(err), zap.Int64("tenant_id", w.cfg.TenantID), zap.Int("sync_errors", errCount))
	metrics.SyncErrors.WithLabelValues(tenantLabel(w.cfg.TenantID), string(w.cfg.SyncType)).Inc()

	if errCount >= w.cfg.MaxErrors {
		reason := "error streak exhausted"
		w.setState(func(s *model.WorkerState) {
			s.State = model.RunTerminated
			s.Reason = reason
		})
		if w.deps.OnTerminate != nil {
			w.deps.OnTerminate(w.cfg, reason)
		}
		return nil
	}

	backoff := time.Duration(3*errCount) * w.cfg.ErrorBackoffUnit
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}
	return nil
}

// onCleanWindow decrements the error streak on a window that completed
// without a transport failure, per spec S4.3.
func (w *Worker) onCleanWindow() {
	w.setState(func(s *model.WorkerState) {
		if s.SyncErrors > 0 {
			s.SyncErrors--
		}
	})
}
