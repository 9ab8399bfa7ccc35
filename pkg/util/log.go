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

// Package util collects small cross-cutting helpers: logger setup, the
// retained-error tail buffer the control RPC reads from, and error
// classification used when deciding what to log at what level.
package util

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the [log] section of the daemon's toml config file.
type Config struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
	// MaxDays/MaxSize/MaxBackups forward to the underlying lumberjack
	// rotation pingcap/log wraps; zero means "use log's own defaults".
	MaxDays    int `toml:"max-days" json:"max-days"`
	MaxSize    int `toml:"max-size" json:"max-size"`
	MaxBackups int `toml:"max-backups" json:"max-backups"`
}

// Adjust fills in defaults, in the same way as pkg/config's Config.adjust.
func (c *Config) Adjust() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// InitLogger installs the process-wide pingcap/log global logger from cfg.
// File empty means log to stdout. extraCores (e.g. a TailBuffer) are teed
// alongside the file/stdout core so every sink sees every record.
func InitLogger(cfg *Config, extraCores ...zapcore.Core) error {
	logCfg := &log.Config{
		Level: cfg.Level,
		File: log.FileLogConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxDays:    cfg.MaxDays,
			MaxBackups: cfg.MaxBackups,
		},
	}
	logger, props, err := log.InitLogger(logCfg)
	if err != nil {
		return errors.Trace(err)
	}
	if len(extraCores) > 0 {
		cores := append([]zapcore.Core{logger.Core()}, extraCores...)
		logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// ZapErrorFilter drops err from the logged field (returning zap.Error(nil))
// when its cause matches any of filters; used so routine shutdown errors
// like context.Canceled don't spam logs at error level.
func ZapErrorFilter(err error, filters ...error) zap.Field {
	cause := errors.Cause(err)
	for _, filter := range filters {
		if cause == filter {
			return zap.Error(nil)
		}
	}
	return zap.Error(err)
}
