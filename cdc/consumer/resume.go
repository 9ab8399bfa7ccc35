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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pingcap/errors"
)

// TokenStore persists the stream consumer's resume token to a single file,
// single-writer discipline per spec S5: the consumer is the sole writer,
// everything else only reads. Writes are atomic (write-temp-and-rename) so
// a crash mid-write never leaves a partially written token behind.
type TokenStore struct {
	path string
	mu   sync.Mutex
}

// NewTokenStore builds a TokenStore backed by the file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Read returns the persisted token, or ok=false if the file does not exist
// (meaning: start from the live tail, per spec S4.5).
func (t *TokenStore) Read() (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, err := ioutil.ReadFile(t.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Annotatef(err, "read resume token")
	}
	return strings.TrimSpace(string(b)), true, nil
}

// Write persists token, replacing any previous value. Written only after
// the sink has acknowledged the corresponding apply -- see Consumer.Apply.
func (t *TokenStore) Write(token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir := filepath.Dir(t.path)
	tmp, err := ioutil.TempFile(dir, ".resume-token-*")
	if err != nil {
		return errors.Annotatef(err, "create temp resume token file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Annotatef(err, "write temp resume token file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Annotatef(err, "close temp resume token file")
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return errors.Annotatef(err, "rename resume token file")
	}
	return nil
}

// Reset deletes the token file, per spec S4.5's "resume-token-stale, reset
// and try once more" restart policy. Remaining gaps are healed by recovery.
func (t *TokenStore) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "reset resume token")
	}
	return nil
}
