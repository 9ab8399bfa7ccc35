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
	"strconv"
	"time"

	"github.com/pingcap/errors"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
)

// clubTypeID is the organization type_id identifying a club, same value as
// the stream consumer's club-detection check.
const clubTypeID = float64(5)

const organizationsResource = "organizations"

// DiscoverActiveClubs implements spec S4.6 step 1's first half: query the
// sink for every active organization of type_id=5. The exclude/group-as-
// club adjustment happens afterwards in resolveTenants.
func DiscoverActiveClubs(ctx context.Context, client sink.Client) ([]model.Tenant, error) {
	where := sink.Document{"type_id": clubTypeID, "active": true}
	page, err := client.List(ctx, organizationsResource, where, "", 0)
	if err != nil {
		return nil, errors.Annotatef(err, "list active clubs")
	}

	tenants := make([]model.Tenant, 0, len(page.Items))
	for i, doc := range page.Items {
		id, err := strconv.ParseInt(idString(doc["_id"]), 10, 64)
		if err != nil {
			continue
		}
		tenant := model.Tenant{
			TenantID: id,
			Name:     stringField(doc, "name"),
			Active:   true,
		}
		if i < len(page.Metas) {
			tenant.Created = page.Metas[i].Updated
		}
		if created, ok := doc["created"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, created); err == nil {
				tenant.Created = ts
			}
		}
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

func idString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringField(doc sink.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}
