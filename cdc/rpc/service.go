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

	"google.golang.org/grpc"

	"github.com/luftsport/nif-cdc/cdc/coordinator"
	"github.com/luftsport/nif-cdc/cdc/model"
)

// serviceName identifies this RPC service on the wire.
const serviceName = "nifcdc.Control"

// StatusRequest/StatusResponse back the liveness ping.
type StatusRequest struct{}
type StatusResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// WorkerIndexRequest addresses a single worker by its registry position, as
// returned by GetWorkersStatus.
type WorkerIndexRequest struct {
	Index int `json:"index"`
}

// WorkersStatusResponse carries every registered worker's state.
type WorkersStatusResponse struct {
	Workers []model.WorkerState `json:"workers"`
}

// WorkerStatusResponse carries one worker's state.
type WorkerStatusResponse struct {
	Worker model.WorkerState `json:"worker"`
	Found  bool              `json:"found"`
}

// LogsRequest bounds how many tail records to return; 0 means "all
// retained".
type LogsRequest struct {
	Limit int `json:"limit"`
}

// LogsResponse carries retained error-level log lines, oldest first.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

// FailedTenantsResponse lists tenants the coordinator could not bring up.
type FailedTenantsResponse struct {
	Tenants []coordinator.FailedTenant `json:"tenants"`
}

// Empty is the response for oneway operations that report nothing back.
type Empty struct{}

// Service is the operation set C7 exposes, mirroring spec S4.7's table.
type Service interface {
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	Shutdown(ctx context.Context, req *Empty) (*Empty, error)
	ShutdownWorkers(ctx context.Context, req *Empty) (*Empty, error)
	StartWorkers(ctx context.Context, req *Empty) (*Empty, error)
	RebootWorkers(ctx context.Context, req *Empty) (*Empty, error)
	GetWorkersStatus(ctx context.Context, req *Empty) (*WorkersStatusResponse, error)
	GetWorkerStatus(ctx context.Context, req *WorkerIndexRequest) (*WorkerStatusResponse, error)
	RestartWorker(ctx context.Context, req *WorkerIndexRequest) (*Empty, error)
	GetLogs(ctx context.Context, req *LogsRequest) (*LogsResponse, error)
	GetWorkerLog(ctx context.Context, req *WorkerIndexRequest) (*LogsResponse, error)
	GetFailedTenants(ctx context.Context, req *Empty) (*FailedTenantsResponse, error)
}

func unary(reqFactory func() interface{}, call func(srv Service, ctx context.Context, req interface{}) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := reqFactory()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Service), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(Service), ctx, req)
		})
	}
}

// ServiceDesc is the hand-written grpc.ServiceDesc replacing what protoc
// would otherwise generate from a .proto file.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: methodHandler(unary(func() interface{} { return new(StatusRequest) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.Status(ctx, req.(*StatusRequest))
		}))},
		{MethodName: "Shutdown", Handler: methodHandler(unary(func() interface{} { return new(Empty) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.Shutdown(ctx, req.(*Empty))
		}))},
		{MethodName: "ShutdownWorkers", Handler: methodHandler(unary(func() interface{} { return new(Empty) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.ShutdownWorkers(ctx, req.(*Empty))
		}))},
		{MethodName: "StartWorkers", Handler: methodHandler(unary(func() interface{} { return new(Empty) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.StartWorkers(ctx, req.(*Empty))
		}))},
		{MethodName: "RebootWorkers", Handler: methodHandler(unary(func() interface{} { return new(Empty) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.RebootWorkers(ctx, req.(*Empty))
		}))},
		{MethodName: "GetWorkersStatus", Handler: methodHandler(unary(func() interface{} { return new(Empty) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetWorkersStatus(ctx, req.(*Empty))
		}))},
		{MethodName: "GetWorkerStatus", Handler: methodHandler(unary(func() interface{} { return new(WorkerIndexRequest) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetWorkerStatus(ctx, req.(*WorkerIndexRequest))
		}))},
		{MethodName: "RestartWorker", Handler: methodHandler(unary(func() interface{} { return new(WorkerIndexRequest) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.RestartWorker(ctx, req.(*WorkerIndexRequest))
		}))},
		{MethodName: "GetLogs", Handler: methodHandler(unary(func() interface{} { return new(LogsRequest) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetLogs(ctx, req.(*LogsRequest))
		}))},
		{MethodName: "GetWorkerLog", Handler: methodHandler(unary(func() interface{} { return new(WorkerIndexRequest) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetWorkerLog(ctx, req.(*WorkerIndexRequest))
		}))},
		{MethodName: "GetFailedTenants", Handler: methodHandler(unary(func() interface{} { return new(Empty) }, func(s Service, ctx context.Context, req interface{}) (interface{}, error) {
			return s.GetFailedTenants(ctx, req.(*Empty))
		}))},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nifcdc/control.proto",
}

// methodHandler adapts our decode-call-respond shape to grpc.methodHandler's
// signature.
func methodHandler(fn func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return fn
}

// RegisterService registers a Service implementation on an *grpc.Server.
func RegisterService(s *grpc.Server, impl Service) {
	s.RegisterService(&ServiceDesc, impl)
}
