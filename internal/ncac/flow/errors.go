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

package flow

import "errors"

var (
	// ErrEmptyFlow is returned by Post for a zero-size descriptor.
	ErrEmptyFlow = errors.New("ncac/flow: descriptor has zero aggregate_size")
	// ErrPost wraps a request-engine error encountered while decomposing
	// and posting a flow's work items.
	ErrPost = errors.New("ncac/flow: post failed")
	// ErrDrive wraps a request-engine or network-engine error encountered
	// while driving the pipeline forward.
	ErrDrive = errors.New("ncac/flow: drive failed")
)
