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
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestTailBufferDropsBelowErrorLevel(t *testing.T) {
	tb := NewTailBuffer(4)
	assert.False(t, tb.Enabled(zapcore.InfoLevel))
	assert.True(t, tb.Enabled(zapcore.ErrorLevel))
}

func TestTailBufferWrapsAroundCapacity(t *testing.T) {
	tb := NewTailBuffer(2)
	for _, msg := range []string{"one", "two", "three"} {
		err := tb.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: msg}, nil)
		assert.NoError(t, err)
	}
	lines := tb.Lines(0)
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "three")
}

func TestTailBufferLinesRespectsLimit(t *testing.T) {
	tb := NewTailBuffer(5)
	for _, msg := range []string{"a", "b", "c"} {
		_ = tb.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: msg}, nil)
	}
	lines := tb.Lines(2)
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "b")
	assert.Contains(t, lines[1], "c")
}
