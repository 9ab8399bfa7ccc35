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
	"sync/atomic"
	"time"
)

// scheduler fires job on every interval using the platform timer, with the
// contract from spec S9: at most one active job at a time; a tick that
// fires while the previous job is still running is dropped and counted as
// a misfire rather than queued or run concurrently.
type scheduler struct {
	interval time.Duration
	running  int32
	onMisfire func()
}

func newScheduler(interval time.Duration, onMisfire func()) *scheduler {
	return &scheduler{interval: interval, onMisfire: onMisfire}
}

// Run blocks until ctx is cancelled or job returns false (the worker asked
// to stop), firing job once per tick. The first fire happens immediately,
// before the ticker's first tick, per spec S4.3: a freshly started (or
// restarted) scheduler must not sit idle for a full interval before its
// first sync.
func (s *scheduler) Run(ctx context.Context, job func(ctx context.Context) bool) {
	if ctx.Err() != nil {
		return
	}
	atomic.StoreInt32(&s.running, 1)
	cont := job(ctx)
	atomic.StoreInt32(&s.running, 0)
	if !cont {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
				if s.onMisfire != nil {
					s.onMisfire()
				}
				continue
			}
			started := time.Now()
			cont := job(ctx)
			atomic.StoreInt32(&s.running, 0)
			// Ticks that fell due while job was running are dropped (including
			// the one the ticker buffered), each counted as a misfire.
			select {
			case <-ticker.C:
			default:
			}
			if s.onMisfire != nil {
				for n := time.Since(started) / s.interval; n > 0; n-- {
					s.onMisfire()
				}
			}
			if !cont {
				return
			}
		}
	}
}
