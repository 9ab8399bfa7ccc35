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

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
	"github.com/luftsport/nif-cdc/pkg/metrics"
)

// upsertChange applies spec S4.3's insert policy: compute the dedup
// ordinal, stamp realm/tenant, and append. A duplicate ordinal is
// treated as already-seen and is not an error -- this is what makes
// overlapping populate/sync windows idempotent.
func (w *Worker) upsertChange(ctx context.Context, rec source.ChangeRecord) error {
	item := model.WorkItem{
		EntityType:      rec.EntityType,
		EntityID:        rec.EntityID,
		SequenceOrdinal: rec.SequenceOrdinal,
		TenantID:        w.cfg.TenantID,
		Realm:           w.cfg.Realm,
		MergedFrom:      rec.MergedFrom,
		Status:          model.StatusReady,
	}
	item.ComputeOrdinal()

	_, err := w.deps.Store.Append(ctx, item)
	if err != nil {
		if _, ok := err.(*sink.ErrAlreadyExists); ok {
			return nil
		}
		return err
	}
	w.setState(func(s *model.WorkerState) { s.MessagesIngested++ })
	metrics.MessagesIngested.WithLabelValues(tenantLabel(w.cfg.TenantID), string(w.cfg.SyncType)).Inc()
	log.Debug("ingested change", zap.Int64("tenant_id", w.cfg.TenantID), zap.Int64("entity_id", rec.EntityID), zap.String("ordinal", item.Ordinal))
	return nil
}
