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

// Package worker implements C4, the per-tenant sync worker: a scheduled
// puller that turns time-window polls of the source into durable work
// items in the change-log store.
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
	"github.com/luftsport/nif-cdc/pkg/metrics"
)

func tenantLabel(tenantID int64) string {
	return strconv.FormatInt(tenantID, 10)
}

func mergeLabels(base prometheus.Labels, key, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

// Config parametrizes one worker instance. TenantID/Realm/SyncType identify
// it in the Coordinator's registry.
type Config struct {
	TenantID int64
	Realm    string
	SyncType model.SyncType
	// Created anchors the populate walk for a never-before-seen tenant.
	Created time.Time

	SyncInterval     time.Duration
	PopulateInterval time.Duration
	MaxErrors        int
	OverlapDelta     time.Duration
	InitialDelta     time.Duration
	PopulateGrace    time.Duration
	// ErrorBackoffUnit scales the linear back-off (3 * sync_errors units);
	// defaults to one second. Tests override it to keep runtime short.
	ErrorBackoffUnit time.Duration
}

func (c Config) withDefaults() Config {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.PopulateInterval <= 0 {
		c.PopulateInterval = 24 * time.Hour
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 10
	}
	if c.PopulateGrace <= 0 {
		c.PopulateGrace = time.Second
	}
	if c.ErrorBackoffUnit <= 0 {
		c.ErrorBackoffUnit = time.Second
	}
	return c
}

// Deps are the collaborators a worker needs but does not own.
type Deps struct {
	Source source.Client
	Store  sink.Store
	Sem    *semaphore.Weighted
	// Shutdown reports whether the fleet-wide shutdown flag is set; checked
	// at every natural yield point.
	Shutdown func() bool
	// OnTerminate is invoked (once) when the worker self-terminates on an
	// exhausted error streak, so the Coordinator can record it.
	OnTerminate func(cfg Config, reason string)
}

// Worker is C4 for one (tenant, sync_type) pair.
type Worker struct {
	cfg  Config
	deps Deps

	mu    sync.RWMutex
	state model.WorkerState

	lastWindowEnd time.Time
}

// New builds a Worker. It does not start it; call Run in its own goroutine.
func New(cfg Config, deps Deps) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:  cfg,
		deps: deps,
		state: model.WorkerState{
			TenantID: cfg.TenantID,
			SyncType: cfg.SyncType,
			State:    model.RunInitialized,
		},
	}
}

// State returns a snapshot of the worker's state record. Safe for
// concurrent use by the Coordinator and the RPC.
func (w *Worker) State() model.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Alive reports whether the worker has not reached a terminal state.
func (w *Worker) Alive() bool {
	return w.State().Alive()
}

func (w *Worker) setState(mutate func(*model.WorkerState)) {
	w.mu.Lock()
	prev := w.state.State
	mutate(&w.state)
	next := w.state.State
	w.mu.Unlock()

	if next != prev {
		labels := prometheus.Labels{
			"tenant":    tenantLabel(w.cfg.TenantID),
			"sync_type": string(w.cfg.SyncType),
		}
		metrics.WorkerState.With(mergeLabels(labels, "state", string(prev))).Set(0)
		metrics.WorkerState.With(mergeLabels(labels, "state", string(next))).Set(1)
	}
}

func (w *Worker) shuttingDown() bool {
	return w.deps.Shutdown != nil && w.deps.Shutdown()
}

// Run drives the worker's full lifecycle: check, then populate-if-needed,
// then the steady-state sync scheduler, until ctx is cancelled, the
// shutdown flag is observed, or the error streak is exhausted.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(func(s *model.WorkerState) {
		s.Started = time.Now()
		s.State = model.RunChecking
	})
	log.Info("worker starting", zap.Int64("tenant_id", w.cfg.TenantID), zap.String("sync_type", string(w.cfg.SyncType)))

	mode, resumeFrom, err := w.check(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	if mode == model.ModePopulate {
		if err := w.populate(ctx, resumeFrom); err != nil {
			return errors.Trace(err)
		}
		if w.terminal() {
			return nil
		}
	}

	return w.syncLoop(ctx)
}

func (w *Worker) terminal() bool {
	return w.State().State == model.RunTerminated
}

// check implements the startup decision in spec S4.3: inspect the most
// recent work item for (tenant, realm) and decide populate vs sync.
func (w *Worker) check(ctx context.Context) (model.Mode, time.Time, error) {
	last, ok, err := w.deps.Store.Latest(ctx, w.cfg.TenantID, w.cfg.Realm)
	if err != nil {
		return "", time.Time{}, errors.Trace(err)
	}
	if !ok {
		return model.ModePopulate, w.cfg.Created, nil
	}
	if time.Since(last.SequenceOrdinal) > w.cfg.PopulateInterval {
		return model.ModePopulate, last.SequenceOrdinal, nil
	}
	w.lastWindowEnd = last.SequenceOrdinal
	return model.ModeSync, time.Time{}, nil
}
