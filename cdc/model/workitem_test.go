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

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdinalStableAndUnique(t *testing.T) {
	seq := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := Ordinal(EntityPerson, 100, seq, 42)
	b := Ordinal(EntityPerson, 100, seq, 42)
	assert.Equal(t, a, b, "ordinal must be a pure function of its inputs")

	c := Ordinal(EntityPerson, 101, seq, 42)
	assert.NotEqual(t, a, c)
}

func TestStatusDAG(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusReady, StatusPending, true},
		{StatusPending, StatusFinished, true},
		{StatusPending, StatusError, true},
		{StatusError, StatusPending, true},
		{StatusReady, StatusFinished, false},
		{StatusFinished, StatusPending, false},
		{StatusError, StatusFinished, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestWorkItemValidate(t *testing.T) {
	w := WorkItem{
		EntityType:      EntityPerson,
		EntityID:        1,
		SequenceOrdinal: time.Now(),
		TenantID:        1,
		Status:          StatusReady,
	}
	require.Error(t, w.Validate(), "ordinal not computed yet")

	w.ComputeOrdinal()
	require.NoError(t, w.Validate())

	w.Status = StatusPending
	assert.Error(t, w.Validate(), "new work items must start ready")

	bad := w
	bad.EntityType = "Bogus"
	bad.Status = StatusReady
	bad.ComputeOrdinal()
	assert.Error(t, bad.Validate())
}

func TestTenantListResolve(t *testing.T) {
	tl := TenantList{
		Exclude:    map[int64]bool{10: true, 11: true},
		GroupAsMap: map[int64]int64{10: 900},
	}
	got := tl.Resolve([]int64{1, 2, 10, 11, 2})
	assert.Equal(t, []int64{1, 2, 900}, got, "excluded-without-mapping dropped, duplicates collapsed")
}
