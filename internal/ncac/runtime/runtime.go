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

// Package runtime wires components A-F (extflags, pool, inode, state,
// request, flow) plus an internal/ncaccfg.Config into the single value a
// host process builds once at startup (spec §9 "Global state"): one
// extent pool, one inode table, one state machine, one request engine,
// and the flow pipeline on top.
package runtime

import (
	"fmt"
	"time"

	"github.com/orangefs-go/ncac/internal/ncac/flow"
	"github.com/orangefs-go/ncac/internal/ncac/inode"
	"github.com/orangefs-go/ncac/internal/ncac/network"
	"github.com/orangefs-go/ncac/internal/ncac/pool"
	"github.com/orangefs-go/ncac/internal/ncac/request"
	"github.com/orangefs-go/ncac/internal/ncac/state"
	"github.com/orangefs-go/ncac/internal/ncac/storage"
	"github.com/orangefs-go/ncac/internal/ncaccfg"
)

// defaultProbeTimeout is the timeout the request engine's prober hands to
// every storage-engine Test call it makes.
const defaultProbeTimeout = 5 * time.Second

// CacheRuntime is the fully wired non-blocking cache stack: everything a
// host process needs to call read_post/write_post/sync_post/test/done
// and drive flow descriptors, built from one ncaccfg.Config.
type CacheRuntime struct {
	cfg ncaccfg.Config

	Table   *inode.Table
	Pool    *pool.Pool
	Machine *state.Machine
	Request *request.Engine
}

// New builds a CacheRuntime from cfg, backed by the given storage engine
// (spec §6 "Storage engine interface"). cfg must already satisfy
// ncaccfg.Validate.
func New(cfg ncaccfg.Config, store storage.Engine) (*CacheRuntime, error) {
	if err := ncaccfg.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("ncac/runtime: invalid config: %w", err)
	}

	table, err := inode.NewTable(cfg.InodeTableBuckets)
	if err != nil {
		return nil, fmt.Errorf("ncac/runtime: inode table: %w", err)
	}

	extents, err := pool.NewPool(int(cfg.ExtentSizeBytes), int(cfg.CacheSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("ncac/runtime: extent pool: %w", err)
	}

	machine := state.New(syncPolicyOf(cfg.SyncPolicy), cfg.DirtyHighWaterMark)

	eng := request.NewEngine(table, extents, machine, store, uint64(cfg.ExtentSizeBytes), cfg.MaxRequestCount, defaultProbeTimeout)

	return &CacheRuntime{
		cfg:     cfg,
		Table:   table,
		Pool:    extents,
		Machine: machine,
		Request: eng,
	}, nil
}

// syncPolicyOf maps the config file's string-based sync policy onto the
// state machine's own enum, keeping internal/ncaccfg free of an import
// on internal/ncac/state.
func syncPolicyOf(p ncaccfg.SyncPolicy) state.SyncPolicy {
	if p == ncaccfg.SyncAggressive {
		return state.SyncAggressive
	}
	return state.SyncLazy
}

// NewPipeline builds a flow pipeline (component F) over this runtime's
// request engine and the given network engine (spec §6 "Network engine
// interface"). A CacheRuntime may back more than one Pipeline; the flow
// pipeline holds no state the request engine itself does not already own.
func (r *CacheRuntime) NewPipeline(net network.Engine) *flow.Pipeline {
	return flow.NewPipeline(r.Request, net)
}

// Config returns the configuration this runtime was built from.
func (r *CacheRuntime) Config() ncaccfg.Config { return r.cfg }

// Stats is a point-in-time snapshot of the cache's headline counters
// (spec §8 invariant 3, SPEC_FULL §3 supplemental feature 6): extent pool
// occupancy plus the total number of dirty extents across every known
// inode.
type Stats struct {
	pool.Stats
	Dirty int
}

// Stats reports the runtime's current pool occupancy and aggregate dirty
// extent count.
func (r *CacheRuntime) Stats() Stats {
	dirty := 0
	r.Table.ForEach(func(ino *inode.Inode) {
		dirty += ino.NrDirty()
	})
	return Stats{Stats: r.Pool.Stats(), Dirty: dirty}
}
