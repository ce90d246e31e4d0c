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

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/orangefs-go/ncac/internal/ncac/request"
	"github.com/orangefs-go/ncac/internal/ncac/storage"
	"github.com/orangefs-go/ncac/internal/ncaccfg"
)

type RuntimeTest struct {
	suite.Suite
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeTest))
}

func testConfig() ncaccfg.Config {
	c := ncaccfg.GetDefaultConfig()
	c.ExtentSizeBytes = 4096
	c.CacheSizeBytes = 4096 * 16
	c.MaxRequestCount = 8
	c.InodeTableBuckets = 16
	return c
}

func (t *RuntimeTest) TestNewRejectsInvalidConfig() {
	c := testConfig()
	c.ExtentSizeBytes = 3000
	_, err := New(c, storage.NewFake())
	assert.Error(t.T(), err)
}

func (t *RuntimeTest) TestNewWiresAReadWriteableCache() {
	rt, err := New(testConfig(), storage.NewFake())
	require.NoError(t.T(), err)

	ctx := context.Background()
	desc := request.Descriptor{
		Collection: 1,
		Handle:     2,
		Segments:   []request.Segment{{FileOffset: 0, Size: 4096}},
	}
	h, _, err := rt.Request.WritePost(ctx, desc)
	require.NoError(t.T(), err)
	require.NoError(t.T(), rt.Request.Done(ctx, h))

	stats := rt.Stats()
	assert.Equal(t.T(), 1, stats.Active+stats.Inactive)
}

func (t *RuntimeTest) TestPinHintKeepsExtentOffShrink() {
	// Aggressive sync writes the extent back on done(), leaving it clean
	// with matched refs, so only the pin keeps it off Shrink.
	cfg := testConfig()
	cfg.SyncPolicy = ncaccfg.SyncAggressive
	rt, err := New(cfg, storage.NewFake())
	require.NoError(t.T(), err)

	ctx := context.Background()
	desc := request.Descriptor{
		Collection: 1,
		Handle:     2,
		Segments:   []request.Segment{{FileOffset: 0, Size: 4096}},
		Hints:      map[string]interface{}{"pin": true},
	}
	h, _, err := rt.Request.WritePost(ctx, desc)
	require.NoError(t.T(), err)
	require.NoError(t.T(), rt.Request.Done(ctx, h))

	discarded := rt.Pool.Shrink(ctx, rt.Pool.Size(), nil)
	assert.Equal(t.T(), 0, discarded)
}
