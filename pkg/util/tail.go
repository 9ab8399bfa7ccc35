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

package util

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// TailBuffer retains the last N error-and-above log lines in memory so the
// control RPC's GetLogs/GetWorkerLog can serve them without reading the log
// file back off disk. It implements zapcore.Core so it can be teed onto the
// process logger alongside the file/stdout cores.
type TailBuffer struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

// NewTailBuffer creates a ring buffer holding at most capacity lines.
func NewTailBuffer(capacity int) *TailBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &TailBuffer{buf: make([]string, capacity)}
}

// Enabled implements zapcore.LevelEnabler: only error level and above is
// retained, mirroring the tailer handler's ERROR threshold.
func (t *TailBuffer) Enabled(level zapcore.Level) bool {
	return level >= zapcore.ErrorLevel
}

// With implements zapcore.Core.
func (t *TailBuffer) With(fields []zapcore.Field) zapcore.Core {
	return t
}

// Check implements zapcore.Core.
func (t *TailBuffer) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(entry.Level) {
		return ce.AddCore(entry, t)
	}
	return ce
}

// Write implements zapcore.Core, appending a formatted line to the ring.
func (t *TailBuffer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line := fmt.Sprintf("%s|%s|%s", entry.Time.Format(time.RFC3339), entry.Level, entry.Message)
	t.append(line)
	return nil
}

// Sync implements zapcore.Core.
func (t *TailBuffer) Sync() error {
	return nil
}

func (t *TailBuffer) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = line
	t.next = (t.next + 1) % len(t.buf)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the retained lines oldest-first, bounded to the last limit
// entries (0 or negative means "all retained").
func (t *TailBuffer) Lines(limit int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ordered []string
	if t.full {
		ordered = append(ordered, t.buf[t.next:]...)
		ordered = append(ordered, t.buf[:t.next]...)
	} else {
		ordered = append(ordered, t.buf[:t.next]...)
	}
	if limit <= 0 || limit >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-limit:]
}
