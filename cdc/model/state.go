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

package model

import "time"

// RunState is the coarse-grained worker lifecycle state.
type RunState string

// RunState values, mirroring SyncState._states in the source daemon.
const (
	RunInitialized RunState = "initialized"
	RunChecking    RunState = "checking"
	RunPopulating  RunState = "populating"
	RunSyncing     RunState = "syncing"
	RunSleeping    RunState = "sleeping"
	RunTerminating RunState = "terminating"
	RunTerminated  RunState = "terminated"
)

// Mode distinguishes whether the worker is catching up historically or
// polling live. The worker records ModeSync in its WorkerState when it
// enters the sync loop (together with RunSyncing); before that Mode is
// empty. ModeCheck and ModePopulate are returned by the worker's startup
// check and are not written into WorkerState.
type Mode string

// Mode values.
const (
	ModeCheck    Mode = "check"
	ModeSync     Mode = "sync"
	ModePopulate Mode = "populate"
)

// WorkerState is the in-memory record the Coordinator and RPC read and the
// owning worker is the sole mutator of.
type WorkerState struct {
	TenantID         int64
	SyncType         SyncType
	State            RunState
	Mode             Mode
	Reason           string
	Started          time.Time
	MessagesIngested int64
	SyncErrors       int
	Misfires         int
	NextRunTime      time.Time
	WindowFrom       time.Time
	WindowTo         time.Time
}

// Uptime returns how long the worker has been running.
func (s WorkerState) Uptime() time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	return time.Since(s.Started)
}

// Alive reports whether the worker is not in a terminal state.
func (s WorkerState) Alive() bool {
	return s.State != RunTerminated
}
