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

// Command nifctl is the control-plane client for syncd: status, worker
// lifecycle operations, log retrieval, and the failed-tenants list, all
// issued as grpc calls defined in cdc/rpc.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luftsport/nif-cdc/cdc/rpc"
)

var (
	addr    string
	timeout time.Duration

	workerIndex int
	logLimit    int
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "nifctl",
		Short: "Control a running nif-cdc sync daemon",
	}
	command.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8021", "syncd control RPC address")
	command.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "RPC call timeout")

	command.AddCommand(
		newStatusCommand(),
		newShutdownCommand(),
		newShutdownWorkersCommand(),
		newStartWorkersCommand(),
		newRebootWorkersCommand(),
		newWorkersCommand(),
		newWorkerCommand(),
		newRestartWorkerCommand(),
		newLogsCommand(),
		newWorkerLogCommand(),
		newFailedTenantsCommand(),
	)
	return command
}

func dial(ctx context.Context) (*rpc.Client, context.Context, context.CancelFunc, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	client, err := rpc.Dial(cctx, addr)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return client, cctx, cancel, nil
}

func jsonPrint(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report daemon liveness and version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resp, err := client.Status(ctx)
			if err != nil {
				return err
			}
			return jsonPrint(resp)
		},
	}
}

func newShutdownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Shut down the entire daemon, including the worker fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			return client.Shutdown(ctx)
		},
	}
}

func newShutdownWorkersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown-workers",
		Short: "Shut down the worker fleet, leaving the control RPC running",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			return client.ShutdownWorkers(ctx)
		},
	}
}

func newStartWorkersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start-workers",
		Short: "Start the worker fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			return client.StartWorkers(ctx)
		},
	}
}

func newRebootWorkersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reboot-workers",
		Short: "Shut down then start the worker fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			return client.RebootWorkers(ctx)
		},
	}
}

func newWorkersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List every registered worker's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resp, err := client.GetWorkersStatus(ctx)
			if err != nil {
				return err
			}
			return jsonPrint(resp)
		},
	}
}

func newWorkerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "worker",
		Short: "Show one worker's state by registry index",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resp, err := client.GetWorkerStatus(ctx, workerIndex)
			if err != nil {
				return err
			}
			return jsonPrint(resp)
		},
	}
	command.Flags().IntVar(&workerIndex, "index", 0, "worker registry index")
	return command
}

func newRestartWorkerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "restart-worker",
		Short: "Check a worker by registry index; fails if it is dead (it is not restarted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			return client.RestartWorker(ctx, workerIndex)
		},
	}
	command.Flags().IntVar(&workerIndex, "index", 0, "worker registry index")
	return command
}

func newLogsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "logs",
		Short: "Show recent retained error-level log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resp, err := client.GetLogs(ctx, logLimit)
			if err != nil {
				return err
			}
			for _, line := range resp.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	command.Flags().IntVar(&logLimit, "limit", 0, "max lines to return, 0 for all retained")
	return command
}

func newWorkerLogCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "worker-log",
		Short: "Show recent retained error-level log lines (the global tail; not filtered by worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resp, err := client.GetWorkerLog(ctx, workerIndex)
			if err != nil {
				return err
			}
			for _, line := range resp.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	command.Flags().IntVar(&workerIndex, "index", 0, "worker registry index")
	return command
}

func newFailedTenantsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "failed-tenants",
		Short: "List tenants the coordinator could not bring up",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := dial(context.Background())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resp, err := client.GetFailedTenants(ctx)
			if err != nil {
				return err
			}
			return jsonPrint(resp)
		},
	}
}
