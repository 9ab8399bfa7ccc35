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

// Package source implements C1, the typed client over the upstream
// federation SOAP/XML API.
package source

import (
	"context"
	"encoding/xml"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luftsport/nif-cdc/cdc/model"
)

// ChangeRecord is one row of a GetChanges* response, before the worker
// computes its dedup ordinal and tenant/realm stamps.
type ChangeRecord struct {
	EntityType      model.EntityKind
	EntityID        int64
	SequenceOrdinal time.Time
	Name            string
	MergedFrom      []int64
}

// Entity is the source's entity payload for a single GetXxx(id) call.
// Shape is passed through unchanged (no schema translation, per spec.md's
// Non-goals) -- only the XML wire encoding is converted to the generic map
// the sink client re-encodes as JSON.
type Entity map[string]interface{}

// UserRecord is the provisioning response from CreateIntegrationUser.
type UserRecord struct {
	UserID      int64
	FunctionID  int64
	LastChanged time.Time
}

// Client is the set of operations the core depends on. A single
// authenticated channel serves a single (tenant, realm) credential.
type Client interface {
	GetChanges(ctx context.Context, kind model.SyncType, from, to time.Time) ([]ChangeRecord, error)
	GetPerson(ctx context.Context, id int64) (Entity, error)
	GetFunction(ctx context.Context, id int64) (Entity, error)
	GetOrganization(ctx context.Context, id int64) (Entity, error)
	GetCompetence(ctx context.Context, id int64) (Entity, error)
	GetLicense(ctx context.Context, id int64) (Entity, error)
	GetPayment(ctx context.Context, id int64) (Entity, error)
	CreateIntegrationUser(ctx context.Context, tenantID int64, firstName, lastName, password string) (UserRecord, error)
	Hello(ctx context.Context) (bool, error)
}

// Config configures a client instance for one credential.
type Config struct {
	Endpoint   string
	Realm      string
	Credential model.Credential
	// Timeout bounds every call this client makes.
	Timeout time.Duration
	// SyncDelay is the minimum spacing between GetChanges calls
	// (NIF_SYNC_DELAY). The first call is not delayed, and entity Get*
	// calls are not paced.
	SyncDelay time.Duration
}

type client struct {
	cfg Config
	hc  *http.Client
	// lim paces GetChanges calls at no more than one per SyncDelay (burst
	// 1), a gentler mechanism than a blocking time.Sleep that still
	// composes with ctx cancellation.
	lim *rate.Limiter
}

// NewClient builds a Client against the SOAP-like federation endpoint.
func NewClient(cfg Config) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.SyncDelay > 0 {
		limit = rate.Every(cfg.SyncDelay)
	}
	return &client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		lim: rate.NewLimiter(limit, 1),
	}
}

// callRaw performs one SOAP-style POST, logging the correlation id and
// classifying errors into ErrUnavailable (transport) or Fault (4xx
// application). The client never retries; it just reports. It returns the
// raw response body for the caller to decode.
func (c *client) callRaw(ctx context.Context, action string, reqBody interface{}) ([]byte, error) {
	cid := uuid.New().String()
	log.Debug("source call", zap.String("action", action), zap.String("correlation_id", cid))

	body, err := xml.Marshal(reqBody)
	if err != nil {
		return nil, errors.Annotatef(err, "marshal request for %s", action)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/"+action, newReader(body))
	if err != nil {
		return nil, errors.Annotatef(err, "build request for %s", action)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("X-Correlation-ID", cid)
	req.SetBasicAuth(c.cfg.Credential.Login(), c.cfg.Credential.Password)

	httpResp, err := c.hc.Do(req)
	if err != nil {
		return nil, &ErrUnavailable{Op: action, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := ioutil.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ErrUnavailable{Op: action, Err: err}
	}

	switch {
	case httpResp.StatusCode >= 500:
		return nil, &ErrUnavailable{Op: action, Err: errors.Errorf("http %d", httpResp.StatusCode)}
	case httpResp.StatusCode >= 400:
		var f Fault
		if err := xml.Unmarshal(raw, &f); err != nil {
			f = Fault{Code: "unknown", Message: string(raw)}
		}
		return nil, &f
	}

	return raw, nil
}

// call is callRaw plus XML-decoding the body into resp.
func (c *client) call(ctx context.Context, action string, reqBody interface{}, resp interface{}) error {
	raw, err := c.callRaw(ctx, action, reqBody)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return errors.Annotatef(xml.Unmarshal(raw, resp), "unmarshal response for %s", action)
}

func (c *client) pace(ctx context.Context) error {
	if c.cfg.SyncDelay <= 0 {
		return nil
	}
	return c.lim.Wait(ctx)
}

func (c *client) GetChanges(ctx context.Context, kind model.SyncType, from, to time.Time) ([]ChangeRecord, error) {
	if !kind.Valid() {
		return nil, errors.Errorf("unknown sync type %q", kind)
	}
	if err := c.pace(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	action, err := soapActionFor(kind)
	if err != nil {
		return nil, err
	}

	var resp changesEnvelope
	if err := c.call(ctx, action, changesRequest{From: from, To: to}, &resp); err != nil {
		return nil, err
	}
	return resp.toChangeRecords(), nil
}

func soapActionFor(kind model.SyncType) (string, error) {
	switch kind {
	case model.SyncChanges:
		return "GetChanges3", nil
	case model.SyncLicense:
		return "GetChangesLicense", nil
	case model.SyncCompetence:
		return "GetChangesCompetence2", nil
	case model.SyncPayments:
		return "GetChangesPayments", nil
	case model.SyncFederation:
		return "GetChangesFederation", nil
	}
	return "", errors.Errorf("no SOAP action for sync type %q", kind)
}

func (c *client) getEntity(ctx context.Context, action string, id int64) (Entity, error) {
	raw, err := c.callRaw(ctx, action, entityRequest{ID: id})
	if err != nil {
		return nil, err
	}
	entity, err := decodeGenericXML(raw)
	if err != nil {
		return nil, errors.Annotatef(err, "decode entity body for %s", action)
	}
	return entity, nil
}

func (c *client) GetPerson(ctx context.Context, id int64) (Entity, error) {
	return c.getEntity(ctx, "PersonGet", id)
}

func (c *client) GetFunction(ctx context.Context, id int64) (Entity, error) {
	return c.getEntity(ctx, "FunctionGet", id)
}

func (c *client) GetOrganization(ctx context.Context, id int64) (Entity, error) {
	return c.getEntity(ctx, "OrgGet", id)
}

func (c *client) GetCompetence(ctx context.Context, id int64) (Entity, error) {
	return c.getEntity(ctx, "CompetenceGet", id)
}

func (c *client) GetLicense(ctx context.Context, id int64) (Entity, error) {
	return c.getEntity(ctx, "LicenseGet", id)
}

func (c *client) GetPayment(ctx context.Context, id int64) (Entity, error) {
	return c.getEntity(ctx, "PaymentGet", id)
}

func (c *client) CreateIntegrationUser(ctx context.Context, tenantID int64, firstName, lastName, password string) (UserRecord, error) {
	var resp UserRecord
	req := createUserRequest{
		OrgID:     tenantID,
		FirstName: firstName,
		LastName:  lastName,
		Password:  password,
	}
	if err := c.call(ctx, "CreateIntegrationUser", req, &resp); err != nil {
		return UserRecord{}, err
	}
	return resp, nil
}

func (c *client) Hello(ctx context.Context) (bool, error) {
	var resp helloResponse
	if err := c.call(ctx, "Hello", struct{}{}, &resp); err != nil {
		// Per spec.md S5, "not yet authenticatable" during provisioning is a
		// retry condition for the caller, not a hard failure: surface it as
		// (false, nil) rather than an error when it's an auth-shaped fault.
		if _, ok := errors.Cause(err).(*Fault); ok {
			return false, nil
		}
		return false, err
	}
	return resp.OK, nil
}
