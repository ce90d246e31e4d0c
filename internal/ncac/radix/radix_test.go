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

package radix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RadixTest struct {
	suite.Suite
	tree *Tree
}

func TestRadixTestSuite(t *testing.T) {
	suite.Run(t, new(RadixTest))
}

func (t *RadixTest) SetupTest() {
	t.tree = New(24)
}

func (t *RadixTest) TestLookupEmpty() {
	assert.Nil(t.T(), t.tree.Lookup(0))
	assert.Nil(t.T(), t.tree.Lookup(42))
}

func (t *RadixTest) TestInsertAndLookup() {
	old := t.tree.Insert(5, "five")

	assert.Nil(t.T(), old)
	assert.Equal(t.T(), "five", t.tree.Lookup(5))
	assert.Nil(t.T(), t.tree.Lookup(6))
	assert.Equal(t.T(), 1, t.tree.Len())
}

func (t *RadixTest) TestInsertOverwriteReturnsOldValue() {
	t.tree.Insert(5, "five")

	old := t.tree.Insert(5, "FIVE")

	assert.Equal(t.T(), "five", old)
	assert.Equal(t.T(), "FIVE", t.tree.Lookup(5))
	assert.Equal(t.T(), 1, t.tree.Len())
}

func (t *RadixTest) TestInsertManyAndLookupEach() {
	keys := []uint64{0, 1, 2, 3, 7, 8, 15, 16, 100, 1000, 1 << 20}
	for _, k := range keys {
		t.tree.Insert(k, k*10)
	}

	for _, k := range keys {
		assert.Equal(t.T(), k*10, t.tree.Lookup(k))
	}
	assert.Equal(t.T(), len(keys), t.tree.Len())
}

func (t *RadixTest) TestDeleteMissingReturnsNil() {
	assert.Nil(t.T(), t.tree.Delete(9))
}

func (t *RadixTest) TestDeleteRemovesKey() {
	t.tree.Insert(5, "five")
	t.tree.Insert(6, "six")

	v := t.tree.Delete(5)

	assert.Equal(t.T(), "five", v)
	assert.Nil(t.T(), t.tree.Lookup(5))
	assert.Equal(t.T(), "six", t.tree.Lookup(6))
	assert.Equal(t.T(), 1, t.tree.Len())
}

func (t *RadixTest) TestDeleteAllThenReinsert() {
	t.tree.Insert(1, "a")
	t.tree.Insert(2, "b")
	t.tree.Insert(3, "c")

	t.tree.Delete(1)
	t.tree.Delete(2)
	t.tree.Delete(3)

	assert.Equal(t.T(), 0, t.tree.Len())
	assert.Nil(t.T(), t.tree.Lookup(1))

	t.tree.Insert(1, "new-a")
	assert.Equal(t.T(), "new-a", t.tree.Lookup(1))
}

func (t *RadixTest) TestFindMinEmpty() {
	_, _, ok := t.tree.FindMin()

	assert.False(t.T(), ok)
}

func (t *RadixTest) TestFindMinReturnsSmallestKey() {
	t.tree.Insert(42, "a")
	t.tree.Insert(7, "b")
	t.tree.Insert(1000, "c")
	t.tree.Insert(3, "d")

	k, v, ok := t.tree.FindMin()

	assert.True(t.T(), ok)
	assert.Equal(t.T(), uint64(3), k)
	assert.Equal(t.T(), "d", v)
}

func (t *RadixTest) TestAscendVisitsInOrder() {
	keys := []uint64{42, 7, 1000, 3, 18, 0}
	for _, k := range keys {
		t.tree.Insert(k, nil)
	}

	var seen []uint64
	t.tree.Ascend(func(key uint64, _ Value) bool {
		seen = append(seen, key)
		return true
	})

	assert.Equal(t.T(), []uint64{0, 3, 7, 18, 42, 1000}, seen)
}

func (t *RadixTest) TestAscendStopsEarly() {
	for _, k := range []uint64{1, 2, 3, 4, 5} {
		t.tree.Insert(k, nil)
	}

	var seen []uint64
	t.tree.Ascend(func(key uint64, _ Value) bool {
		seen = append(seen, key)
		return key < 3
	})

	assert.Equal(t.T(), []uint64{1, 2, 3}, seen)
}

func (t *RadixTest) TestFindMinAfterDeletingMinimum() {
	t.tree.Insert(1, "a")
	t.tree.Insert(2, "b")
	t.tree.Insert(3, "c")

	t.tree.Delete(1)

	k, v, ok := t.tree.FindMin()
	assert.True(t.T(), ok)
	assert.Equal(t.T(), uint64(2), k)
	assert.Equal(t.T(), "b", v)
}

func (t *RadixTest) TestLenAfterMixedOperations() {
	for i := uint64(0); i < 20; i++ {
		t.tree.Insert(i, i)
	}
	for i := uint64(0); i < 10; i++ {
		t.tree.Delete(i)
	}

	assert.Equal(t.T(), 10, t.tree.Len())
	for i := uint64(0); i < 10; i++ {
		assert.Nil(t.T(), t.tree.Lookup(i))
	}
	for i := uint64(10); i < 20; i++ {
		assert.Equal(t.T(), i, t.tree.Lookup(i))
	}
}
