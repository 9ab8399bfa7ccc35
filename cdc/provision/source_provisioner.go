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

package provision

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pingcap/errors"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
)

// usersResource mirrors original_source's NifIntegrationUser persistence:
// one document per tenant, keyed by tenant id, recording the credential the
// source handed back from CreateIntegrationUser.
const usersResource = "integration/users"

// SourceProvisioner is the production CredentialProvisioner: it creates the
// federation integration user through the source client, persists it in the
// sink so a restart does not recreate it, and re-uses whatever is already
// on file for a tenant that already has one.
type SourceProvisioner struct {
	Source source.Client
	Sink   sink.Client
	AppID  string
}

func userID(tenantID int64) string {
	return fmt.Sprintf("%d", tenantID)
}

// Ensure implements CredentialProvisioner.
func (p *SourceProvisioner) Ensure(ctx context.Context, tenant model.Tenant) (model.Credential, bool, error) {
	doc, _, err := p.Sink.Get(ctx, usersResource, userID(tenant.TenantID))
	if err == nil {
		return credentialFromDoc(doc), false, nil
	}
	if _, ok := err.(*sink.ErrNotFound); !ok {
		return model.Credential{}, false, errors.Annotatef(err, "look up integration user for tenant %d", tenant.TenantID)
	}

	rec, err := p.Source.CreateIntegrationUser(ctx, tenant.TenantID, "nif-cdc", tenant.Name, generatePassword())
	if err != nil {
		return model.Credential{}, false, errors.Annotatef(err, "create integration user for tenant %d", tenant.TenantID)
	}
	cred := model.Credential{
		AppID:      p.AppID,
		FunctionID: fmt.Sprintf("%d", rec.FunctionID),
		Username:   fmt.Sprintf("%d", rec.UserID),
		Password:   "",
	}

	saved := sink.Document{
		"_id":         userID(tenant.TenantID),
		"app_id":      cred.AppID,
		"function_id": cred.FunctionID,
		"username":    cred.Username,
		"password":    cred.Password,
	}
	if _, err := p.Sink.Insert(ctx, usersResource, saved); err != nil {
		return model.Credential{}, false, errors.Annotatef(err, "persist integration user for tenant %d", tenant.TenantID)
	}
	return cred, true, nil
}

// Authenticated implements CredentialProvisioner.
func (p *SourceProvisioner) Authenticated(ctx context.Context, cred model.Credential) (bool, error) {
	return p.Source.Hello(ctx)
}

func credentialFromDoc(doc sink.Document) model.Credential {
	get := func(key string) string {
		v, _ := doc[key].(string)
		return v
	}
	return model.Credential{
		AppID:      get("app_id"),
		FunctionID: get("function_id"),
		Username:   get("username"),
		Password:   get("password"),
	}
}

// generatePassword is a placeholder for the source's own password policy;
// production deployments should supply one through a secrets manager
// instead of generating it locally.
func generatePassword() string {
	return uuid.New().String()
}
