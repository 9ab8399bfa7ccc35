// Copyright 2020 PingCAP, Inc.
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

// Package metrics declares the process-wide Prometheus collectors every
// component increments: messages ingested, sync errors, scheduler
// misfires, window lag and worker run state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifcdc_messages_ingested_total",
			Help: "Total change records ingested into the change-log store, by tenant and sync type",
		},
		[]string{"tenant", "sync_type"},
	)

	SyncErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifcdc_sync_errors_total",
			Help: "Total source errors observed by a worker, by tenant and sync type",
		},
		[]string{"tenant", "sync_type"},
	)

	Misfires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifcdc_scheduler_misfires_total",
			Help: "Total scheduler ticks dropped because the previous job was still running",
		},
		[]string{"tenant", "sync_type"},
	)

	WindowLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nifcdc_window_lag_seconds",
			Help: "Seconds between now and the end of the last successfully polled window",
		},
		[]string{"tenant", "sync_type"},
	)

	WorkerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nifcdc_worker_state",
			Help: "1 if the worker is currently in the given run state, 0 otherwise",
		},
		[]string{"tenant", "sync_type", "state"},
	)

	ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nifcdc_apply_duration_seconds",
			Help:    "Time taken for the consumer to apply one change record to the sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity_kind"},
	)

	RecoverySweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifcdc_recovery_sweep_items_total",
			Help: "Total work items scanned during a recovery sweep, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(MessagesIngested)
	prometheus.MustRegister(SyncErrors)
	prometheus.MustRegister(Misfires)
	prometheus.MustRegister(WindowLagSeconds)
	prometheus.MustRegister(WorkerState)
	prometheus.MustRegister(ApplyDuration)
	prometheus.MustRegister(RecoverySweepItems)
}

// Handler serves the metrics registry over HTTP for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}
