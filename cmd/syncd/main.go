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

// Command syncd is the CDC daemon: it brings up the per-tenant worker
// fleet (C4/C6), the stream consumer (C5), the recovery sweeper, and the
// control RPC (C7), then runs until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/luftsport/nif-cdc/cdc/consumer"
	"github.com/luftsport/nif-cdc/cdc/coordinator"
	"github.com/luftsport/nif-cdc/cdc/provision"
	"github.com/luftsport/nif-cdc/cdc/recovery"
	"github.com/luftsport/nif-cdc/cdc/rpc"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
	"github.com/luftsport/nif-cdc/cdc/worker"
	"github.com/luftsport/nif-cdc/pkg/config"
	"github.com/luftsport/nif-cdc/pkg/metrics"
	"github.com/luftsport/nif-cdc/pkg/util"
)

var (
	configPath string
	realmFlag  string
	logLevel   string
	pidFile    string
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
		Use:   "syncd",
		Short: "Run the NIF change-data-capture sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	command.PersistentFlags().StringVar(&configPath, "config", "nif-cdc.toml", "path to the daemon's toml config file")
	command.PersistentFlags().StringVar(&realmFlag, "realm", "", "override the config file's realm")
	command.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the config file's log level")
	command.PersistentFlags().StringVar(&pidFile, "pid-file", "", "write the daemon's pid to this path")
	return command
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if realmFlag != "" {
		cfg.Realm = realmFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logCfg := &util.Config{Level: cfg.Log.Level, File: cfg.Log.File}
	logCfg.Adjust()
	tail := util.NewTailBuffer(500)
	if err := util.InitLogger(logCfg, tail); err != nil {
		return errors.Trace(err)
	}

	if pidFile != "" {
		if err := ioutil.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			log.Warn("failed to write pid file", zap.Error(err), zap.String("path", pidFile))
		}
	}

	syncTypes, err := cfg.ParsedSyncTypes()
	if err != nil {
		return errors.Trace(err)
	}
	groupsAsClubs, err := cfg.GroupsAsClubsMap()
	if err != nil {
		return errors.Trace(err)
	}

	sourceClient := source.NewClient(source.Config{
		Endpoint:  cfg.Source.Endpoint,
		Realm:     cfg.Realm,
		Timeout:   time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		SyncDelay: time.Duration(cfg.Source.SyncDelaySeconds) * time.Second,
	})
	sinkClient := sink.NewClient(sink.Config{
		BaseURL: cfg.Sink.BaseURL,
		APIKey:  cfg.Sink.APIKey,
		Timeout: time.Duration(cfg.Sink.TimeoutSeconds) * time.Second,
	})
	store := sink.NewStore(sinkClient)
	provisioner := &provision.SourceProvisioner{Source: sourceClient, Sink: sinkClient, AppID: cfg.Source.AppID}

	coord := coordinator.New(coordinator.Config{
		Realm:              cfg.Realm,
		ConnectionPoolSize: cfg.ConnectionPoolSize,
		SyncTypes:          syncTypes,
		ExcludeTenants:     cfg.ExcludeTenantSet(),
		GroupsAsClubsMap:   groupsAsClubs,
		Worker: worker.Config{
			SyncInterval:     cfg.SyncInterval(),
			PopulateInterval: cfg.PopulateIntervalDuration(),
			MaxErrors:        cfg.SyncMaxErrors,
		},
	}, coordinator.Deps{
		Source:      sourceClient,
		Store:       store,
		Provisioner: provisioner,
	})

	cons := consumer.New(consumer.Config{
		Realm:          cfg.Realm,
		GeocodeEnabled: cfg.GeocodeEnabled,
	}, consumer.Deps{
		Source: sourceClient,
		Sink:   sinkClient,
		Store:  store,
		Tokens: consumer.NewTokenStore(cfg.Stream.ResumeTokenFile),
	})

	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	clubs, err := coordinator.DiscoverActiveClubs(ctx, sinkClient)
	if err != nil {
		return errors.Trace(err)
	}

	startFleet := func(ctx context.Context) error {
		return coord.Start(ctx, clubs)
	}
	if err := startFleet(ctx); err != nil {
		return errors.Trace(err)
	}

	go func() {
		if err := cons.Run(ctx); err != nil && errors.Cause(err) != context.Canceled {
			log.Error("stream consumer exited", zap.Error(err))
		}
	}()

	sweeper := &recovery.Sweeper{Store: store, Consumer: cons, Realm: cfg.Realm}
	go runRecoveryLoop(ctx, sweeper)

	lis, err := net.Listen("tcp", cfg.RPC.ListenAddr)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", cfg.RPC.ListenAddr)
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterService(grpcServer, rpc.NewServer(coord, tail, startFleet, func() error {
		cancelAll()
		return nil
	}))
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("control RPC server stopped", zap.Error(err))
		}
	}()

	go metricsServer(cfg.RPC.ListenAddr)

	reboot := func() error {
		if err := coord.Shutdown(); err != nil {
			return errors.Trace(err)
		}
		return startFleet(ctx)
	}
	waitForShutdownSignal(ctx, cancelAll, reboot)
	grpcServer.GracefulStop()
	return coord.Shutdown()
}

// metricsServer exposes Prometheus metrics one port above the control RPC
// listener, matching the teacher pack's convention of a side-channel HTTP
// endpoint next to the primary listener.
func metricsServer(rpcAddr string) {
	_, port, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		return
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return
	}
	addr := net.JoinHostPort("", strconv.Itoa(n+1))
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

// runRecoveryLoop runs both recovery passes: SweepReady hourly, the routine
// clean-up pass over long-downtime backlog, and SweepStuck on a much
// shorter interval, since a pending item only reaches that status through a
// crash mid-apply and should not wait an hour to be redelivered.
func runRecoveryLoop(ctx context.Context, sweeper *recovery.Sweeper) {
	readyTicker := time.NewTicker(time.Hour)
	defer readyTicker.Stop()
	stuckTicker := time.NewTicker(5 * time.Minute)
	defer stuckTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-readyTicker.C:
			if res, err := sweeper.SweepReady(ctx); err != nil {
				log.Error("recovery sweep (ready) failed", zap.Error(err))
			} else {
				log.Info("recovery sweep (ready) complete", zap.Int("scanned", res.Scanned), zap.Int("applied", res.Applied), zap.Int("failed", res.Failed))
			}
		case <-stuckTicker.C:
			if res, err := sweeper.SweepStuck(ctx); err != nil {
				log.Error("recovery sweep (stuck) failed", zap.Error(err))
			} else {
				log.Info("recovery sweep (stuck) complete", zap.Int("scanned", res.Scanned), zap.Int("applied", res.Applied), zap.Int("failed", res.Failed))
			}
		}
	}
}

// waitForShutdownSignal blocks until an orderly-shutdown signal arrives or
// ctx is cancelled (the control RPC's Shutdown cancels it).
// SIGHUP/SIGINT/SIGTERM/SIGTSTP/SIGTTIN/SIGTTOU all request the same
// orderly shutdown. SIGUSR1 is the process-level mirror of the control
// RPC's RebootWorkers: it runs reboot and keeps waiting instead of
// tearing the process down.
func waitForShutdownSignal(ctx context.Context, cancel context.CancelFunc, reboot func() error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU, syscall.SIGUSR1)
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown requested over the control RPC")
			return
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				log.Info("SIGUSR1 received, rebooting worker fleet")
				if err := reboot(); err != nil {
					log.Error("reboot failed", zap.Error(err))
				}
				continue
			}
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			cancel()
			return
		}
	}
}
