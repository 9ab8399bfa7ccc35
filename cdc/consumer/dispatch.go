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

package consumer

import (
	"context"

	"github.com/pingcap/errors"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/source"
)

// fetchEntity dispatches to the right source method for kind, per spec S9's
// tagged-variant table -- avoids reflection, a plain type switch instead.
func (c *Consumer) fetchEntity(ctx context.Context, kind model.EntityKind, id int64) (source.Entity, error) {
	switch kind {
	case model.EntityPerson:
		return c.deps.Source.GetPerson(ctx, id)
	case model.EntityFunction:
		return c.deps.Source.GetFunction(ctx, id)
	case model.EntityOrganization:
		return c.deps.Source.GetOrganization(ctx, id)
	case model.EntityCompetence:
		return c.deps.Source.GetCompetence(ctx, id)
	case model.EntityLicense:
		return c.deps.Source.GetLicense(ctx, id)
	case model.EntityPayment:
		return c.deps.Source.GetPayment(ctx, id)
	}
	return nil, errors.Errorf("no source dispatch for entity kind %q", kind)
}
