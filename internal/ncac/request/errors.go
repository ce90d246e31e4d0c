// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package request

import "errors"

// Error kinds surfaced by the request engine (spec §7 "Error handling
// design").
var (
	// ErrNoMem: request pool empty or buffer allocation for slot arrays
	// failed.
	ErrNoMem = errors.New("ncac/request: no_mem")
	// ErrJobPrepare: segment decomposition failed (e.g. bad descriptor).
	ErrJobPrepare = errors.New("ncac/request: job_prepare_err")
	// ErrJobDo: internal invariant violation while processing.
	ErrJobDo = errors.New("ncac/request: job_do_err")
	// ErrCacheErr: storage engine reported an error on probe.
	ErrCacheErr = errors.New("ncac/request: cache_err")
	// ErrReqStatus: done() called on a request in a state from which
	// release is not defined.
	ErrReqStatus = errors.New("ncac/request: req_status_err")
	// ErrInvalFlags: a descriptor carried a flag/hint combination the
	// cache does not recognize (an undecodable hint bag). A state
	// transition's guard firing on a corrupt flag set surfaces instead as
	// state.ErrInvalFlags joined with ErrJobDo.
	ErrInvalFlags = errors.New("ncac/request: inval_flags")
)
