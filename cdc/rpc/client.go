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
	"fmt"

	"github.com/pingcap/errors"
	"google.golang.org/grpc"
)

// Client is the thin control-plane client cmd/nifctl drives. Every method
// is a single unary call against the grpc.ClientConn's "proto" codec,
// which this package has overridden with JSON encoding.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a grpc connection to addr. Callers own closing it via Close.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", addr)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func fullMethod(name string) string {
	return fmt.Sprintf("/%s/%s", serviceName, name)
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	resp := new(StatusResponse)
	if err := c.conn.Invoke(ctx, fullMethod("Status"), &StatusRequest{}, resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	return errors.Trace(c.conn.Invoke(ctx, fullMethod("Shutdown"), &Empty{}, new(Empty)))
}

func (c *Client) ShutdownWorkers(ctx context.Context) error {
	return errors.Trace(c.conn.Invoke(ctx, fullMethod("ShutdownWorkers"), &Empty{}, new(Empty)))
}

func (c *Client) StartWorkers(ctx context.Context) error {
	return errors.Trace(c.conn.Invoke(ctx, fullMethod("StartWorkers"), &Empty{}, new(Empty)))
}

func (c *Client) RebootWorkers(ctx context.Context) error {
	return errors.Trace(c.conn.Invoke(ctx, fullMethod("RebootWorkers"), &Empty{}, new(Empty)))
}

func (c *Client) GetWorkersStatus(ctx context.Context) (*WorkersStatusResponse, error) {
	resp := new(WorkersStatusResponse)
	if err := c.conn.Invoke(ctx, fullMethod("GetWorkersStatus"), &Empty{}, resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

func (c *Client) GetWorkerStatus(ctx context.Context, index int) (*WorkerStatusResponse, error) {
	resp := new(WorkerStatusResponse)
	req := &WorkerIndexRequest{Index: index}
	if err := c.conn.Invoke(ctx, fullMethod("GetWorkerStatus"), req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

func (c *Client) RestartWorker(ctx context.Context, index int) error {
	req := &WorkerIndexRequest{Index: index}
	return errors.Trace(c.conn.Invoke(ctx, fullMethod("RestartWorker"), req, new(Empty)))
}

func (c *Client) GetLogs(ctx context.Context, limit int) (*LogsResponse, error) {
	resp := new(LogsResponse)
	req := &LogsRequest{Limit: limit}
	if err := c.conn.Invoke(ctx, fullMethod("GetLogs"), req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

func (c *Client) GetWorkerLog(ctx context.Context, index int) (*LogsResponse, error) {
	resp := new(LogsResponse)
	req := &WorkerIndexRequest{Index: index}
	if err := c.conn.Invoke(ctx, fullMethod("GetWorkerLog"), req, resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}

func (c *Client) GetFailedTenants(ctx context.Context) (*FailedTenantsResponse, error) {
	resp := new(FailedTenantsResponse)
	if err := c.conn.Invoke(ctx, fullMethod("GetFailedTenants"), &Empty{}, resp); err != nil {
		return nil, errors.Trace(err)
	}
	return resp, nil
}
