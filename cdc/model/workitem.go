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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pingcap/errors"
)

// Status is a work item's position in the DAG
// ready -> pending -> {finished, error}, error -> pending.
type Status string

// Status values.
const (
	StatusReady     Status = "ready"
	StatusPending   Status = "pending"
	StatusFinished  Status = "finished"
	StatusError     Status = "error"
)

// transitions enumerates every edge the DAG in spec.md section 3 allows.
var transitions = map[Status]map[Status]bool{
	StatusReady:   {StatusPending: true},
	StatusPending: {StatusFinished: true, StatusError: true},
	StatusError:   {StatusPending: true},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// WorkItem is one row of the change-log store (C3): a durable record of an
// observed source change.
type WorkItem struct {
	ID              string     `json:"_id,omitempty"`
	ETag            string     `json:"_etag,omitempty"`
	EntityType      EntityKind `json:"entity_type"`
	EntityID        int64      `json:"entity_id"`
	SequenceOrdinal time.Time  `json:"sequence_ordinal"`
	TenantID        int64      `json:"tenant_id"`
	Realm           string     `json:"realm"`
	MergedFrom      []int64    `json:"merged_from,omitempty"`
	Status          Status     `json:"status"`
	Issues          interface{} `json:"issues,omitempty"`
	Ordinal         string     `json:"ordinal"`
}

// ComputeOrdinal fills in the stable dedup fingerprint
// hash(entity_type, entity_id, sequence_ordinal, tenant_id).
func (w *WorkItem) ComputeOrdinal() {
	w.Ordinal = Ordinal(w.EntityType, w.EntityID, w.SequenceOrdinal, w.TenantID)
}

// Ordinal computes the dedup fingerprint for a prospective work item
// without constructing one, used by callers that only need the key.
func Ordinal(kind EntityKind, entityID int64, seq time.Time, tenantID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d%s%d", kind, entityID, seq.UTC().Format(time.RFC3339Nano), tenantID)))
	return hex.EncodeToString(sum[:])
}

// Validate checks invariants that must hold before a WorkItem may be
// appended to the change-log store.
func (w *WorkItem) Validate() error {
	if !w.EntityType.Valid() {
		return errors.Errorf("invalid entity type %q", w.EntityType)
	}
	if w.Ordinal == "" {
		return errors.New("ordinal not computed")
	}
	if w.Status != StatusReady {
		return errors.Errorf("new work items must start in %q, got %q", StatusReady, w.Status)
	}
	return nil
}
