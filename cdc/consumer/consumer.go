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

// Package consumer implements C5, the stream consumer: it tails newly
// inserted work items in the change-log store, resolves each against the
// source, and applies it to the sink with optimistic-concurrency semantics.
package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luftsport/nif-cdc/cdc/model"
	"github.com/luftsport/nif-cdc/cdc/sink"
	"github.com/luftsport/nif-cdc/cdc/source"
	"github.com/luftsport/nif-cdc/pkg/metrics"
)

// organizationClub is the type_id that marks an Organization as a club,
// per spec S4.5: clubs carry activities/main_activity computed downstream,
// and those fields must be preserved across stream applies.
const organizationClub = float64(5)

// GeoEnricher enriches a Person/Organization document with coordinates
// before first insert. Out of scope per spec S1; the default implementation
// is a no-op adapter point.
type GeoEnricher interface {
	Enrich(ctx context.Context, kind model.EntityKind, doc sink.Document) (sink.Document, error)
}

type noopGeoEnricher struct{}

func (noopGeoEnricher) Enrich(ctx context.Context, kind model.EntityKind, doc sink.Document) (sink.Document, error) {
	return doc, nil
}

// Config parametrizes one Consumer instance.
type Config struct {
	Realm           string
	ResumeTokenFile string
	MaxRestarts     int
	GeocodeEnabled  bool
	PollInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Deps are the collaborators a Consumer needs but does not own.
type Deps struct {
	Source   source.Client
	Sink     sink.Client
	Store    sink.Store
	Geocoder GeoEnricher
	Tokens   *TokenStore
}

// Consumer is C5.
type Consumer struct {
	cfg  Config
	deps Deps

	// resumeTokenLock suppresses token writes during a recovery sweep, per
	// spec S4.5/S5, so a crash mid-recovery can't move the live cursor past
	// events the tailing loop has not actually seen yet.
	resumeTokenLock bool
}

// New builds a Consumer.
func New(cfg Config, deps Deps) *Consumer {
	cfg = cfg.withDefaults()
	if deps.Geocoder == nil {
		deps.Geocoder = noopGeoEnricher{}
	}
	return &Consumer{cfg: cfg, deps: deps}
}

// LockResumeToken suspends resume-token writes for the duration of a
// recovery sweep; call the returned func to release it.
func (c *Consumer) LockResumeToken() func() {
	c.resumeTokenLock = true
	return func() { c.resumeTokenLock = false }
}

// Run drives the tailing watch loop, restarting itself up to MaxRestarts
// times on a substrate-internal fault; after exhausting restarts it resets
// the token and makes one more attempt, per spec S4.5.
func (c *Consumer) Run(ctx context.Context) error {
	restarts := 0
	resetAttempted := false
	for {
		err := c.runOnce(ctx)
		if err == nil || errors.Cause(err) == context.Canceled {
			return nil
		}
		log.Error("stream consumer watch failed", zap.Error(err), zap.Int("restarts", restarts))

		if resetAttempted {
			return errors.Annotatef(err, "stream consumer exhausted restarts and a token reset")
		}
		restarts++
		if restarts <= c.cfg.MaxRestarts {
			continue
		}
		resetAttempted = true
		if rerr := c.deps.Tokens.Reset(); rerr != nil {
			log.Error("failed to reset resume token", zap.Error(rerr))
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) error {
	resumeAfter, _, err := c.deps.Tokens.Read()
	if err != nil {
		return errors.Trace(err)
	}

	events, err := c.deps.Store.Watch(ctx, resumeAfter, c.cfg.PollInterval)
	if err != nil {
		return errors.Trace(err)
	}

	for ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
		if err := c.processEvent(ctx, ev.Item); err != nil {
			log.Error("apply work item failed", zap.Error(err), zap.String("id", ev.Item.ID))
		}
	}
	return nil
}

func (c *Consumer) processEvent(ctx context.Context, item model.WorkItem) error {
	if item.Realm != c.cfg.Realm {
		return nil
	}

	item, err := c.deps.Store.UpdateStatus(ctx, item.ID, model.StatusPending, nil)
	if err != nil {
		return errors.Annotatef(err, "transition %s to pending", item.ID)
	}

	return c.Apply(ctx, item, true)
}

// Apply runs one work item through the resolve/apply/finish path described
// in spec S4.5. persistToken controls whether a successful apply writes the
// resume token -- true for the live tail, false for recovery sweeps.
func (c *Consumer) Apply(ctx context.Context, item model.WorkItem, persistToken bool) error {
	timer := prometheus.NewTimer(metrics.ApplyDuration.WithLabelValues(string(item.EntityType)))
	defer timer.ObserveDuration()

	entity, err := c.fetchEntity(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return c.fail(ctx, item, err)
	}

	if err := c.applyToSink(ctx, item, entity); err != nil {
		return c.fail(ctx, item, err)
	}

	if item.EntityType == model.EntityPerson {
		if err := c.resolveMergeChain(ctx, item); err != nil {
			return c.fail(ctx, item, err)
		}
	}

	if _, err := c.deps.Store.UpdateStatus(ctx, item.ID, model.StatusFinished, nil); err != nil {
		return errors.Annotatef(err, "transition %s to finished", item.ID)
	}

	if persistToken && !c.resumeTokenLock {
		if err := c.deps.Tokens.Write(item.ID); err != nil {
			log.Error("failed to persist resume token", zap.Error(err), zap.String("id", item.ID))
		}
	}
	return nil
}

func (c *Consumer) fail(ctx context.Context, item model.WorkItem, cause error) error {
	issues := map[string]interface{}{"message": cause.Error()}
	if _, err := c.deps.Store.UpdateStatus(ctx, item.ID, model.StatusError, issues); err != nil {
		log.Error("failed to record error status", zap.Error(err), zap.String("id", item.ID))
	}
	return cause
}

// applyToSink implements the insert/patch/replace decision from spec S4.5.
func (c *Consumer) applyToSink(ctx context.Context, item model.WorkItem, entity source.Entity) error {
	resource, err := item.EntityType.SinkResource()
	if err != nil {
		return errors.Trace(err)
	}
	writeResource, err := item.EntityType.WriteResource()
	if err != nil {
		return errors.Trace(err)
	}
	id := strconv.FormatInt(item.EntityID, 10)

	doc := sink.Document(entity)
	existing, existingMeta, err := c.deps.Sink.Get(ctx, resource, id)
	notFound := false
	if err != nil {
		if _, ok := err.(*sink.ErrNotFound); ok {
			notFound = true
		} else {
			return errors.Trace(err)
		}
	}

	if notFound {
		if c.cfg.GeocodeEnabled && (item.EntityType == model.EntityPerson || item.EntityType == model.EntityOrganization) {
			enriched, err := c.deps.Geocoder.Enrich(ctx, item.EntityType, doc)
			if err != nil {
				log.Warn("geocode enrichment failed, inserting without it", zap.Error(err))
			} else {
				doc = enriched
			}
		}
		doc["_id"] = id
		_, err := c.deps.Sink.Insert(ctx, writeResource, doc)
		if err != nil {
			if _, ok := err.(*sink.ErrAlreadyExists); ok {
				return nil
			}
			return errors.Trace(err)
		}
		return nil
	}

	if item.EntityType == model.EntityOrganization && isClub(existing) {
		// Clubs carry activities/main_activity computed downstream; strip
		// them from the incoming snapshot so a stream apply never clobbers
		// server-computed state (spec S4.5, S9).
		patch := sink.Document{}
		for k, v := range doc {
			if k == "activities" || k == "main_activity" {
				continue
			}
			patch[k] = v
		}
		_, err := c.deps.Sink.Patch(ctx, writeResource, id, existingMeta.Etag, patch)
		return errors.Trace(err)
	}

	_, err = c.deps.Sink.Replace(ctx, writeResource, id, existingMeta.Etag, doc)
	return errors.Trace(err)
}

func isClub(doc sink.Document) bool {
	v, ok := doc["type_id"]
	if !ok {
		return false
	}
	switch n := v.(type) {
	case float64:
		return n == organizationClub
	case int:
		return float64(n) == organizationClub
	case string:
		return n == "5"
	}
	return false
}

// resolveMergeChain implements spec S4.5 step 5: for every id in
// merged_from, ensure the merged-from snapshot exists and carries
// merged_to = entity_id, creating a stub if it is missing entirely.
func (c *Consumer) resolveMergeChain(ctx context.Context, item model.WorkItem) error {
	resource, _ := model.EntityPerson.SinkResource()
	writeResource, _ := model.EntityPerson.WriteResource()
	for _, fromID := range item.MergedFrom {
		id := strconv.FormatInt(fromID, 10)
		doc, meta, err := c.deps.Sink.Get(ctx, resource, id)
		if err != nil {
			if _, ok := err.(*sink.ErrNotFound); ok {
				stub := sink.Document{"_id": id, "merged_to": item.EntityID}
				if _, err := c.deps.Sink.Insert(ctx, writeResource, stub); err != nil {
					if _, ok := err.(*sink.ErrAlreadyExists); !ok {
						return errors.Annotatef(err, "create merge stub %s", id)
					}
				}
				continue
			}
			return errors.Trace(err)
		}
		switch existing := doc["merged_to"].(type) {
		case float64:
			if int64(existing) == item.EntityID {
				continue
			}
		case int64:
			if existing == item.EntityID {
				continue
			}
		}
		doc["merged_to"] = item.EntityID
		if _, err := c.deps.Sink.Replace(ctx, writeResource, id, meta.Etag, doc); err != nil {
			return errors.Annotatef(err, "update merged_to on %s", id)
		}
	}
	return nil
}
