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

import "github.com/pingcap/errors"

// EntityKind is the tagged variant over the source's five (plus payment)
// concrete entity shapes. Dispatch to the source method and sink resource
// for a kind always goes through explicit type switches (the consumer's
// fetchEntity and SinkResource below), never reflection.
type EntityKind string

// The entity kinds the source federation API hands out.
const (
	EntityPerson       EntityKind = "Person"
	EntityFunction     EntityKind = "Function"
	EntityOrganization EntityKind = "Organization"
	EntityCompetence   EntityKind = "Competence"
	EntityLicense      EntityKind = "License"
	EntityPayment      EntityKind = "Payment"
)

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityPerson, EntityFunction, EntityOrganization, EntityCompetence, EntityLicense, EntityPayment:
		return true
	}
	return false
}

// SinkResource is the sink REST resource name a kind materialises into,
// e.g. "persons". Use this for reads (Get); writes go through
// WriteResource instead, which triggers the sink's server-side enrichment.
func (k EntityKind) SinkResource() (string, error) {
	switch k {
	case EntityPerson:
		return "persons", nil
	case EntityFunction:
		return "functions", nil
	case EntityOrganization:
		return "organizations", nil
	case EntityCompetence:
		return "competences", nil
	case EntityLicense:
		return "licenses", nil
	case EntityPayment:
		return "payments", nil
	}
	return "", errors.Errorf("unknown entity kind %q", k)
}

// WriteResource is the resource name every insert/patch/replace must target
// instead of SinkResource's bare name: the sink only runs its server-side
// enrichment (activities, geocoding follow-ups, etc.) when a write hits the
// "/process" variant of a resource.
func (k EntityKind) WriteResource() (string, error) {
	resource, err := k.SinkResource()
	if err != nil {
		return "", err
	}
	return resource + "/process", nil
}

// SyncType is one of the five federation change streams a sync worker can
// be assigned to. It is a broader set than EntityKind because "changes"
// covers three entity kinds (Person, Function, Organization) at once and
// "federation" is a distinct, overlapping stream by design.
type SyncType string

// SyncType values, matching NIF_SYNC_TYPES.
const (
	SyncChanges    SyncType = "changes"
	SyncLicense    SyncType = "license"
	SyncCompetence SyncType = "competence"
	SyncPayments   SyncType = "payments"
	SyncFederation SyncType = "federation"
)

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	switch t {
	case SyncChanges, SyncLicense, SyncCompetence, SyncPayments, SyncFederation:
		return true
	}
	return false
}

// AllSyncTypes is the full set recognised by the sync_types configuration
// option, in the order the coordinator instantiates them.
var AllSyncTypes = []SyncType{SyncChanges, SyncPayments, SyncLicense, SyncCompetence, SyncFederation}
