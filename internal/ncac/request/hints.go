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

import (
	"github.com/mitchellh/mapstructure"
)

// ReplacementPolicy is the hint bag's replacement-policy tag. The cache
// only ever implements one real policy (the active/inactive LRU of
// component B); the others are accepted and recorded but do not change
// eviction behavior, matching spec §6's "hints are advisory".
type ReplacementPolicy string

const (
	PolicyLRU  ReplacementPolicy = "LRU"
	PolicyMRU  ReplacementPolicy = "MRU"
	PolicyARC  ReplacementPolicy = "ARC"
	PolicyNone ReplacementPolicy = "NONE"
)

// CacheHint is the typed shape a Descriptor.Hints bag decodes into (spec
// §6 "hint bag"; SPEC_FULL §2 domain-stack mapstructure wiring).
type CacheHint struct {
	Policy ReplacementPolicy `mapstructure:"policy"`
	// Pin keeps every extent this request touches off the pool's Shrink
	// eviction path. No request clears a pin: a request without Pin leaves
	// an already pinned extent pinned.
	Pin bool `mapstructure:"pin"`
}

// decodeHints decodes a Descriptor's free-form Hints bag (typically a
// map[string]interface{} from a host process's own config/RPC layer)
// into a CacheHint, tolerating a nil bag.
func decodeHints(raw interface{}) (CacheHint, error) {
	var hint CacheHint
	if raw == nil {
		return hint, nil
	}
	if err := mapstructure.Decode(raw, &hint); err != nil {
		return CacheHint{}, err
	}
	return hint, nil
}
