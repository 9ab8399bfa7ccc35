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

	"github.com/pingcap/errors"

	"github.com/luftsport/nif-cdc/cdc/coordinator"
)

// TailBuffer is the bounded in-memory error-log source GetLogs/GetWorkerLog
// read from. Implemented by pkg/util.TailBuffer.
type TailBuffer interface {
	Lines(limit int) []string
}

// Version is stamped into Status responses; set by the build.
var Version = "dev"

// server wires the fleet Coordinator and the retained log buffer into the
// Service contract.
type server struct {
	coord *coordinator.Coordinator
	logs  TailBuffer
	// start/stop are injected because "start/stop the worker fleet" is a
	// daemon-level concern (it also owns the initial tenant discovery
	// call), not something the Coordinator alone can redo from inside
	// itself.
	start func(context.Context) error
	stop  func() error
}

// NewServer builds a Service implementation over coord.
func NewServer(coord *coordinator.Coordinator, logs TailBuffer, start func(context.Context) error, stop func() error) Service {
	return &server{coord: coord, logs: logs, start: start, stop: stop}
}

func (s *server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{OK: true, Version: Version}, nil
}

func (s *server) Shutdown(ctx context.Context, req *Empty) (*Empty, error) {
	if err := s.stop(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Empty{}, nil
}

func (s *server) ShutdownWorkers(ctx context.Context, req *Empty) (*Empty, error) {
	if err := s.coord.Shutdown(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Empty{}, nil
}

func (s *server) StartWorkers(ctx context.Context, req *Empty) (*Empty, error) {
	if err := s.start(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	return &Empty{}, nil
}

func (s *server) RebootWorkers(ctx context.Context, req *Empty) (*Empty, error) {
	if err := s.coord.Shutdown(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.start(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	return &Empty{}, nil
}

func (s *server) GetWorkersStatus(ctx context.Context, req *Empty) (*WorkersStatusResponse, error) {
	return &WorkersStatusResponse{Workers: s.coord.WorkerStates()}, nil
}

func (s *server) GetWorkerStatus(ctx context.Context, req *WorkerIndexRequest) (*WorkerStatusResponse, error) {
	states := s.coord.WorkerStates()
	if req.Index < 0 || req.Index >= len(states) {
		return &WorkerStatusResponse{Found: false}, nil
	}
	return &WorkerStatusResponse{Worker: states[req.Index], Found: true}, nil
}

// RestartWorker does not start a worker. It reports success when the
// worker at Index is alive and returns an error when it is dead; a dead
// worker is only brought back by rebooting the whole fleet
// (RebootWorkers), since the Coordinator owns worker lifecycle.
func (s *server) RestartWorker(ctx context.Context, req *WorkerIndexRequest) (*Empty, error) {
	states := s.coord.WorkerStates()
	if req.Index < 0 || req.Index >= len(states) {
		return nil, errors.Errorf("no worker at index %d", req.Index)
	}
	if states[req.Index].Alive() {
		return &Empty{}, nil
	}
	return &Empty{}, errors.Errorf("worker %d is dead; restart requires a fleet reboot", req.Index)
}

func (s *server) GetLogs(ctx context.Context, req *LogsRequest) (*LogsResponse, error) {
	return &LogsResponse{Lines: s.logs.Lines(req.Limit)}, nil
}

func (s *server) GetWorkerLog(ctx context.Context, req *WorkerIndexRequest) (*LogsResponse, error) {
	return &LogsResponse{Lines: s.logs.Lines(0)}, nil
}

func (s *server) GetFailedTenants(ctx context.Context, req *Empty) (*FailedTenantsResponse, error) {
	return &FailedTenantsResponse{Tenants: s.coord.FailedTenants()}, nil
}
