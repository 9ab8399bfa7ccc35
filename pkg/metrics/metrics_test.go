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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMessagesIngestedIncrements(t *testing.T) {
	MessagesIngested.Reset()
	MessagesIngested.WithLabelValues("1", "changes").Inc()
	MessagesIngested.WithLabelValues("1", "changes").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(MessagesIngested.WithLabelValues("1", "changes")))
}

func TestWorkerStateIsAGauge(t *testing.T) {
	WorkerState.Reset()
	WorkerState.WithLabelValues("1", "changes", "syncing").Set(1)

	assert.Equal(t, float64(1), testutil.ToFloat64(WorkerState.WithLabelValues("1", "changes", "syncing")))
}
