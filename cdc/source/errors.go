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

package source

import "fmt"

// ErrUnavailable is returned for transport faults and 5xx responses from
// the source. A rejected credential comes back as a 4xx response and is
// reported as a Fault, not as ErrUnavailable. Callers (C4, C5) own retry
// policy; the client never retries internally.
type ErrUnavailable struct {
	Op  string
	Err error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("source unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// Fault is a 4xx-equivalent application fault reported by the source with
// its own code and message, e.g. an unknown entity id.
type Fault struct {
	Code    string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("source fault %s: %s", f.Code, f.Message)
}
