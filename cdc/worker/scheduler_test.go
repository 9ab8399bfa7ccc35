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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerFiresFirstJobImmediately(t *testing.T) {
	sched := newScheduler(time.Hour, nil)
	fired := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx, func(ctx context.Context) bool {
		fired <- struct{}{}
		return false
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not fire its first job immediately")
	}
	cancel()
}

func TestSchedulerStopsWhenJobReturnsFalse(t *testing.T) {
	sched := newScheduler(time.Millisecond, nil)
	var calls int

	sched.Run(context.Background(), func(ctx context.Context) bool {
		calls++
		return false
	})

	assert.Equal(t, 1, calls, "job returning false must stop the scheduler after its first fire")
}
