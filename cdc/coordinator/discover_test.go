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

package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luftsport/nif-cdc/cdc/sink"
)

type fakeListSink struct {
	sink.Client
	page sink.Page
}

func (f fakeListSink) List(ctx context.Context, resource string, where sink.Document, sort string, maxResults int) (sink.Page, error) {
	return f.page, nil
}

func TestDiscoverActiveClubsParsesDocuments(t *testing.T) {
	f := fakeListSink{page: sink.Page{
		Items: []sink.Document{
			{"_id": "100", "name": "Oslo IL", "type_id": clubTypeID},
			{"_id": "200", "name": "Bergen IL", "type_id": clubTypeID},
		},
		Metas: []sink.Meta{{ID: "100"}, {ID: "200"}},
	}}

	tenants, err := DiscoverActiveClubs(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, int64(100), tenants[0].TenantID)
	assert.Equal(t, "Bergen IL", tenants[1].Name)
}
