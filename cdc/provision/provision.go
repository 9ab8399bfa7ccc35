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

// Package provision models the coordinator-facing half of integration-user
// provisioning: the wait-for-authentication protocol described in spec
// S4.6/S5, and SourceProvisioner, which backs it with the source's
// CreateIntegrationUser and Hello calls.
package provision

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/luftsport/nif-cdc/cdc/model"
)

// CredentialProvisioner is the external collaborator that creates (or
// fetches an existing) integration credential for a tenant, and checks
// whether it can currently authenticate. Production deployments back this
// with the source's CreateIntegrationUser/Hello calls, as SourceProvisioner
// in this package does.
type CredentialProvisioner interface {
	// Ensure creates the integration user for tenant if it does not exist,
	// returning its credential. created reports whether this call actually
	// created a new user (vs. returning a pre-existing one), which decides
	// whether the caller needs to wait out the authentication poll below.
	Ensure(ctx context.Context, tenant model.Tenant) (cred model.Credential, created bool, err error)
	// Authenticated polls the source's liveness check for cred.
	Authenticated(ctx context.Context, cred model.Credential) (bool, error)
}

// Config bounds the authentication poll described in spec S5: poll every
// PollInterval until success or Ceiling elapses, then a further Grace
// sleep to let freshly created users propagate before first use.
type Config struct {
	PollInterval time.Duration
	Ceiling      time.Duration
	Grace        time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 220 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 140 * time.Second
	}
	return c
}

// Provision ensures tenant has a usable integration credential, waiting out
// the authentication race for freshly created users per spec S4.6 step 2
// and S5's "not yet authenticatable is a retry condition" rule. It does not
// include the post-creation grace sleep: spec S4.6 steps 2-3 describe one
// fleet-wide grace wait after the whole per-tenant creation loop, not one
// per tenant, so that wait is GraceWait, called once by the caller after
// the loop. created reports whether the caller needs to wait out GraceWait
// at all.
func Provision(ctx context.Context, p CredentialProvisioner, tenant model.Tenant, cfg Config) (cred model.Credential, created bool, err error) {
	cfg = cfg.withDefaults()

	cred, created, err = p.Ensure(ctx, tenant)
	if err != nil {
		return model.Credential{}, false, errors.Annotatef(err, "ensure integration user for tenant %d", tenant.TenantID)
	}
	if !created {
		return cred, false, nil
	}

	deadline := time.Now().Add(cfg.Ceiling)
	for {
		ok, err := p.Authenticated(ctx, cred)
		if err != nil {
			return model.Credential{}, false, errors.Annotatef(err, "poll authentication for tenant %d", tenant.TenantID)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return model.Credential{}, false, errors.Errorf("tenant %d: integration user did not authenticate within %s", tenant.TenantID, cfg.Ceiling)
		}
		log.Debug("waiting for integration user to authenticate", zap.Int64("tenant_id", tenant.TenantID))
		select {
		case <-ctx.Done():
			return model.Credential{}, false, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
	return cred, true, nil
}

// GraceWait is the single fleet-wide post-creation grace sleep from spec
// S4.6 steps 2-3: run once, after every tenant in the startup loop has been
// provisioned, not once per newly created tenant.
func GraceWait(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.Grace):
		return nil
	}
}
