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
	"fmt"
	"sort"
)

// prepareSlots implements spec §4.5 "Request preparation": the
// descriptor's segments are sorted by file offset (for list-I/O
// friendliness) and each is chopped at extent boundaries into slots. For
// slot k: FileOffset is the extent-aligned file offset; BufferOffset is
// the intra-extent byte offset (0 for all but the first slot of a
// segment); BufferSize is extentSize minus the intra-extent offset for
// the first slot, extentSize for middle slots, and the remainder for the
// last slot.
func prepareSlots(segments []Segment, extentSize uint64) ([]Slot, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("ncac/request: descriptor has no segments: %w", ErrJobPrepare)
	}

	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FileOffset < sorted[j].FileOffset })

	var slots []Slot
	for _, seg := range sorted {
		if seg.Size == 0 {
			return nil, fmt.Errorf("ncac/request: zero-size segment at offset %d: %w", seg.FileOffset, ErrJobPrepare)
		}

		pos, remaining := seg.FileOffset, seg.Size
		for remaining > 0 {
			base := (pos / extentSize) * extentSize
			intra := uint32(pos - base)
			avail := uint64(extentSize) - uint64(intra)
			take := avail
			if take > remaining {
				take = remaining
			}

			slots = append(slots, Slot{
				FileOffset:   base,
				BufferOffset: intra,
				BufferSize:   uint32(take),
			})

			pos += take
			remaining -= take
		}
	}

	return slots, nil
}

// dedupIndex returns, for each slot, the index of the first slot in the
// request touching the same extent (itself, if it is the first). Spec
// §4.5 step 4: "the same extent is touched at most once per request" —
// a second tuple in a vector descriptor that happens to land in an
// already-touched extent must not take a second reference or re-run the
// state machine.
func dedupIndex(slots []Slot, extentSize uint64) []int {
	dedup := make([]int, len(slots))
	firstSlotOf := make(map[uint64]int, len(slots))
	for i, s := range slots {
		idx := s.FileOffset / extentSize
		if first, ok := firstSlotOf[idx]; ok {
			dedup[i] = first
		} else {
			firstSlotOf[idx] = i
			dedup[i] = i
		}
	}
	return dedup
}
