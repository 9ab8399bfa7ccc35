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

package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/coordinator"
)

type fakeLogs struct{ lines []string }

func (f fakeLogs) Lines(limit int) []string {
	if limit <= 0 || limit >= len(f.lines) {
		return f.lines
	}
	return f.lines[len(f.lines)-limit:]
}

func TestServerStatusReportsVersion(t *testing.T) {
	c := coordinator.New(coordinator.Config{}, coordinator.Deps{})
	s := NewServer(c, fakeLogs{}, func(context.Context) error { return nil }, func() error { return nil })

	resp, err := s.Status(context.Background(), &StatusRequest{})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestServerGetWorkerStatusOutOfRange(t *testing.T) {
	c := coordinator.New(coordinator.Config{}, coordinator.Deps{})
	s := NewServer(c, fakeLogs{}, func(context.Context) error { return nil }, func() error { return nil })

	resp, err := s.GetWorkerStatus(context.Background(), &WorkerIndexRequest{Index: 0})
	require.NoError(t, err)
	assert.False(t, resp.Found)
}

func TestServerGetLogsHonoursLimit(t *testing.T) {
	c := coordinator.New(coordinator.Config{}, coordinator.Deps{})
	s := NewServer(c, fakeLogs{lines: []string{"a", "b", "c"}}, func(context.Context) error { return nil }, func() error { return nil })

	resp, err := s.GetLogs(context.Background(), &LogsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, resp.Lines)
}

func TestServerShutdownInvokesStopHook(t *testing.T) {
	c := coordinator.New(coordinator.Config{}, coordinator.Deps{})
	called := false
	s := NewServer(c, fakeLogs{}, func(context.Context) error { return nil }, func() error {
		called = true
		return nil
	})

	_, err := s.Shutdown(context.Background(), &Empty{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestServerGetFailedTenantsEmpty(t *testing.T) {
	c := coordinator.New(coordinator.Config{}, coordinator.Deps{})
	s := NewServer(c, fakeLogs{}, func(context.Context) error { return nil }, func() error { return nil })

	resp, err := s.GetFailedTenants(context.Background(), &Empty{})
	require.NoError(t, err)
	assert.Empty(t, resp.Tenants)
}
