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

package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/model"
)

func TestDecodeGenericXMLLeaves(t *testing.T) {
	raw := []byte(`<Person><Id>42</Id><Name>Ola Nordmann</Name></Person>`)
	e, err := decodeGenericXML(raw)
	require.NoError(t, err)
	assert.Equal(t, "42", e["Id"])
	assert.Equal(t, "Ola Nordmann", e["Name"])
}

func TestDecodeGenericXMLNested(t *testing.T) {
	raw := []byte(`<Organization><Id>7</Id><Activities><Activity>Football</Activity><Activity>Handball</Activity></Activities></Organization>`)
	e, err := decodeGenericXML(raw)
	require.NoError(t, err)
	activities, ok := e["Activities"].(map[string]interface{})
	require.True(t, ok)
	list, ok := activities["Activity"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"Football", "Handball"}, list)
}

func TestChangesEnvelopeToChangeRecords(t *testing.T) {
	env := changesEnvelope{Changes: []changeInfo{
		{EntityType: "Person", ID: 1, SequenceOrdinal: "2024-06-01T12:00:00Z", Name: "a"},
		{EntityType: "Function", ID: 2, SequenceOrdinal: "bogus"},
	}}
	recs := env.toChangeRecords()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].SequenceOrdinal.IsZero())
	assert.True(t, recs[1].SequenceOrdinal.IsZero())
}

func TestSoapActionFor(t *testing.T) {
	cases := map[model.SyncType]string{
		model.SyncChanges:    "GetChanges3",
		model.SyncLicense:    "GetChangesLicense",
		model.SyncCompetence: "GetChangesCompetence2",
		model.SyncPayments:   "GetChangesPayments",
		model.SyncFederation: "GetChangesFederation",
	}
	for kind, want := range cases {
		got, err := soapActionFor(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
