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

package sink

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pingcap/errors"
)

// MaxOptimisticRetries bounds the GET-mutate-conditional-write loop below.
// Three is enough in practice: the sink's etag only moves under genuine
// concurrent writers, and those are rare per work item.
const MaxOptimisticRetries = 3

// retryBackOff paces the re-read between optimistic attempts so a
// precondition-failed storm doesn't turn into a tight retry loop against
// the sink.
func retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// Mutator transforms the current document into the desired next document.
// It must be a pure function of its input: RetryOptimistic may invoke it
// more than once against successive reads of the same id.
type Mutator func(current Document) Document

// RetryOptimistic implements the optimistic-concurrency dance described for
// C2/C3: GET to obtain the current etag, apply mutator, write conditionally,
// and on a precondition-failed response, re-read and retry. Returns the
// etag/meta of the final successful write.
func RetryOptimistic(ctx context.Context, c Client, resource, id string, mutate Mutator) (Meta, error) {
	var lastErr error
	bo := retryBackOff()
	for attempt := 0; attempt < MaxOptimisticRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackOff(ctx, bo); err != nil {
				return Meta{}, err
			}
		}
		cur, meta, err := c.Get(ctx, resource, id)
		if err != nil {
			return Meta{}, errors.Trace(err)
		}
		next := mutate(cur)
		newMeta, err := c.Replace(ctx, resource, id, meta.Etag, next)
		if err == nil {
			return newMeta, nil
		}
		if _, ok := err.(*ErrPreconditionFailed); !ok {
			return Meta{}, errors.Trace(err)
		}
		lastErr = err
	}
	return Meta{}, errors.Annotatef(lastErr, "exhausted %d optimistic retries on %s/%s", MaxOptimisticRetries, resource, id)
}

// sleepBackOff waits out one backoff step, returning ctx.Err() if it's
// cancelled first.
func sleepBackOff(ctx context.Context, bo backoff.BackOff) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(bo.NextBackOff()):
		return nil
	}
}

// RetryOptimisticPatch is RetryOptimistic's patch-shaped counterpart, used
// by the work-item status dance: mutate receives the current document and
// returns only the fields to patch.
func RetryOptimisticPatch(ctx context.Context, c Client, resource, id string, mutate Mutator, onAlreadyApplied func(current Document) bool) (Meta, error) {
	var lastErr error
	bo := retryBackOff()
	for attempt := 0; attempt < MaxOptimisticRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackOff(ctx, bo); err != nil {
				return Meta{}, err
			}
		}
		cur, meta, err := c.Get(ctx, resource, id)
		if err != nil {
			return Meta{}, errors.Trace(err)
		}
		if onAlreadyApplied != nil && onAlreadyApplied(cur) {
			return meta, nil
		}
		patch := mutate(cur)
		newMeta, err := c.Patch(ctx, resource, id, meta.Etag, patch)
		if err == nil {
			return newMeta, nil
		}
		if _, ok := err.(*ErrPreconditionFailed); !ok {
			return Meta{}, errors.Trace(err)
		}
		lastErr = err
	}
	return Meta{}, errors.Annotatef(lastErr, "exhausted %d optimistic retries on %s/%s", MaxOptimisticRetries, resource, id)
}
