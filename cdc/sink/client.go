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

// Package sink implements C2 and C3: REST CRUD against the downstream
// document store, and the change-log collection built on top of it.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Document is a generic JSON document, used for both request bodies and
// entity snapshots -- the sink's resources are passed through without a
// fixed Go schema, matching source.Entity.
type Document map[string]interface{}

// Meta is the bookkeeping envelope the sink attaches to every document.
type Meta struct {
	ID      string
	Etag    string
	Updated time.Time
}

// Page is one page of a List call.
type Page struct {
	Items []Document
	Metas []Meta
	Total int
}

// InsertResult is the per-item outcome of a batch Insert.
type InsertResult struct {
	Meta Meta
	Err  error
}

// Client is the REST operation set C2 exposes: list/get/insert/replace/
// patch/delete, all optimistic-concurrency aware.
type Client interface {
	List(ctx context.Context, resource string, where Document, sort string, maxResults int) (Page, error)
	Get(ctx context.Context, resource, id string) (Document, Meta, error)
	Insert(ctx context.Context, resource string, docs ...Document) ([]InsertResult, error)
	Replace(ctx context.Context, resource, id, etag string, doc Document) (Meta, error)
	Patch(ctx context.Context, resource, id, etag string, patch Document) (Meta, error)
	Delete(ctx context.Context, resource, id, etag string) error
}

// Config configures a Client instance.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type client struct {
	cfg Config
	hc  *http.Client
}

// NewClient builds a Client against the downstream document store.
func NewClient(cfg Config) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

// envelope mirrors the sink's _items/_meta response shape for List, and the
// flat _id/_etag/_updated fields the sink stamps onto every document.
type envelope struct {
	Items []json.RawMessage `json:"_items"`
	Meta  struct {
		Total int `json:"total"`
	} `json:"_meta"`
}

type stamped struct {
	ID      string    `json:"_id"`
	Etag    string    `json:"_etag"`
	Updated time.Time `json:"_updated"`
}

func metaOf(raw json.RawMessage) (Document, Meta, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, Meta{}, err
	}
	var s stamped
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, Meta{}, err
	}
	return doc, Meta{ID: s.ID, Etag: s.Etag, Updated: s.Updated}, nil
}

func (c *client) do(ctx context.Context, method, resource, id string, query url.Values, etag string, body interface{}) ([]byte, int, error) {
	cid := uuid.New().String()
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, 0, errors.Annotatef(err, "parse base url")
	}
	p := resource
	if id != "" {
		p = resource + "/" + id
	}
	u.Path = joinPath(u.Path, p)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, errors.Annotatef(err, "marshal %s body", method)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, 0, errors.Annotatef(err, "build %s %s", method, p)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", cid)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	log.Debug("sink call", zap.String("method", method), zap.String("path", p), zap.String("correlation_id", cid))

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, &ErrUnavailable{Op: method + " " + p, Err: err}
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &ErrUnavailable{Op: method + " " + p, Err: err}
	}
	return raw, resp.StatusCode, nil
}

func joinPath(base, p string) string {
	if base == "" {
		return "/" + p
	}
	if base[len(base)-1] == '/' {
		return base + p
	}
	return base + "/" + p
}

func (c *client) List(ctx context.Context, resource string, where Document, sort string, maxResults int) (Page, error) {
	q := url.Values{}
	if len(where) > 0 {
		b, err := json.Marshal(where)
		if err != nil {
			return Page{}, errors.Annotatef(err, "marshal where clause")
		}
		q.Set("where", string(b))
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}

	raw, status, err := c.do(ctx, http.MethodGet, resource, "", q, "", nil)
	if err != nil {
		return Page{}, err
	}
	if status >= 400 {
		return Page{}, classifyError(resource, "", status, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Page{}, errors.Annotatef(err, "unmarshal %s list envelope", resource)
	}
	page := Page{Total: env.Meta.Total}
	for _, item := range env.Items {
		doc, meta, err := metaOf(item)
		if err != nil {
			return Page{}, errors.Annotatef(err, "unmarshal %s list item", resource)
		}
		page.Items = append(page.Items, doc)
		page.Metas = append(page.Metas, meta)
	}
	return page, nil
}

func (c *client) Get(ctx context.Context, resource, id string) (Document, Meta, error) {
	raw, status, err := c.do(ctx, http.MethodGet, resource, id, nil, "", nil)
	if err != nil {
		return nil, Meta{}, err
	}
	if status >= 400 {
		return nil, Meta{}, classifyError(resource, id, status, raw)
	}
	return metaOf(raw)
}

func (c *client) Insert(ctx context.Context, resource string, docs ...Document) ([]InsertResult, error) {
	var body interface{} = docs
	if len(docs) == 1 {
		body = docs[0]
	}
	raw, status, err := c.do(ctx, http.MethodPost, resource, "", nil, "", body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict || status == 422 {
		return nil, &ErrAlreadyExists{Resource: resource}
	}
	if status >= 400 {
		return nil, classifyError(resource, "", status, raw)
	}

	if len(docs) == 1 {
		_, meta, err := metaOf(raw)
		if err != nil {
			return nil, errors.Annotatef(err, "unmarshal insert response")
		}
		return []InsertResult{{Meta: meta}}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Annotatef(err, "unmarshal batch insert envelope")
	}
	out := make([]InsertResult, 0, len(env.Items))
	for _, item := range env.Items {
		_, meta, err := metaOf(item)
		out = append(out, InsertResult{Meta: meta, Err: err})
	}
	return out, nil
}

func (c *client) Replace(ctx context.Context, resource, id, etag string, doc Document) (Meta, error) {
	raw, status, err := c.do(ctx, http.MethodPut, resource, id, nil, etag, doc)
	if err != nil {
		return Meta{}, err
	}
	if status >= 400 {
		return Meta{}, classifyError(resource, id, status, raw)
	}
	_, meta, err := metaOf(raw)
	return meta, err
}

func (c *client) Patch(ctx context.Context, resource, id, etag string, patch Document) (Meta, error) {
	raw, status, err := c.do(ctx, "PATCH", resource, id, nil, etag, patch)
	if err != nil {
		return Meta{}, err
	}
	if status >= 400 {
		return Meta{}, classifyError(resource, id, status, raw)
	}
	_, meta, err := metaOf(raw)
	return meta, err
}

func (c *client) Delete(ctx context.Context, resource, id, etag string) error {
	raw, status, err := c.do(ctx, http.MethodDelete, resource, id, nil, etag, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return classifyError(resource, id, status, raw)
	}
	return nil
}

func classifyError(resource, id string, status int, raw []byte) error {
	switch status {
	case http.StatusNotFound:
		return &ErrNotFound{Resource: resource, ID: id}
	case http.StatusPreconditionFailed, http.StatusConflict:
		return &ErrPreconditionFailed{Resource: resource, ID: id}
	case 422:
		return &ErrAlreadyExists{Resource: resource, Key: id}
	}
	return errors.Errorf("sink: %s/%s returned http %d: %s", resource, id, status, string(raw))
}
