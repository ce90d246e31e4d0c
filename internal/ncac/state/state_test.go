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

package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/orangefs-go/ncac/internal/ncac/extflags"
	"github.com/orangefs-go/ncac/internal/ncac/inode"
	"github.com/orangefs-go/ncac/internal/ncac/pool"
)

const testExtentSize = 4096

type fakeProber struct {
	done bool
	err  error
}

func (p fakeProber) Probe(context.Context, uint64) (bool, error) { return p.done, p.err }

type StateTest struct {
	suite.Suite
	ctx     context.Context
	machine *Machine
	p       *pool.Pool
}

func TestStateTestSuite(t *testing.T) {
	suite.Run(t, new(StateTest))
}

func (t *StateTest) SetupTest() {
	t.ctx = context.Background()
	t.machine = New(SyncLazy, 4)

	p, err := pool.NewPool(testExtentSize, testExtentSize*4)
	require.NoError(t.T(), err)
	t.p = p
}

func (t *StateTest) alloc() *pool.Extent {
	e, err := t.p.Alloc(t.ctx)
	require.NoError(t.T(), err)
	return e
}

func (t *StateTest) TestFirstReadAccessIssuesAndMarksPending() {
	e := t.alloc()

	res, err := t.machine.FirstReadAccess(e, func() (uint64, error) { return 7, nil })

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
	assert.True(t.T(), e.Flags.Has(extflags.ReadPending))
	assert.Equal(t.T(), uint64(1), uint64(e.ReadRefs))
	assert.Equal(t.T(), uint64(7), e.IOHandle)
}

func (t *StateTest) TestFirstReadAccessRejectsNonBlank() {
	e := t.alloc()
	e.Flags = extflags.Clean

	_, err := t.machine.FirstReadAccess(e, func() (uint64, error) { return 1, nil })

	assert.ErrorIs(t.T(), err, ErrInvalFlags)
}

func (t *StateTest) TestSubsequentReadAccessReadyWhenClean() {
	e := t.alloc()
	e.Flags = extflags.Clean

	res, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), Ready, res)
	assert.True(t.T(), e.Flags.Has(extflags.ReadComm))
}

func (t *StateTest) TestSubsequentReadAccessSharesExistingReadComm() {
	e := t.alloc()
	e.Flags = extflags.Clean | extflags.ReadComm

	res, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), Ready, res)
}

func (t *StateTest) TestSubsequentReadAccessBlockedByOutstandingWrite() {
	e := t.alloc()
	e.Flags = extflags.Clean
	e.WriteRefs = 1

	res, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
}

func (t *StateTest) TestSubsequentReadAccessBlockedByWriteComm() {
	e := t.alloc()
	e.Flags = extflags.WriteComm

	res, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
}

func (t *StateTest) TestSubsequentReadAccessProbesPendingIO() {
	e := t.alloc()
	e.Flags = extflags.ReadPending
	e.IOHandle = 5

	res, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{done: true})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), Ready, res)
	assert.True(t.T(), e.Flags.Has(extflags.Clean))
	assert.True(t.T(), e.Flags.Has(extflags.ReadComm))
}

func (t *StateTest) TestSubsequentReadAccessStillPending() {
	e := t.alloc()
	e.Flags = extflags.ReadPending
	e.IOHandle = 5

	res, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{done: false})

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
}

func (t *StateTest) TestSubsequentReadAccessProbeError() {
	e := t.alloc()
	e.Flags = extflags.ReadPending
	e.IOHandle = 5
	probeErr := errors.New("boom")

	_, err := t.machine.SubsequentReadAccess(t.ctx, e, t.p, fakeProber{err: probeErr})

	assert.ErrorIs(t.T(), err, probeErr)
}

func (t *StateTest) TestWriteAccessFullExtentOnBlank() {
	e := t.alloc()

	res, err := t.machine.WriteAccess(t.ctx, e, fakeProber{}, false, nil)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), Ready, res)
	assert.True(t.T(), e.Flags.Has(extflags.WriteComm))
	assert.False(t.T(), e.Flags.Has(extflags.Blank))
	assert.Equal(t.T(), uint32(1), e.WriteRefs)
}

func (t *StateTest) TestWriteAccessSerializesWrites() {
	e := t.alloc()
	e.Flags = extflags.Clean
	e.WriteRefs = 1

	res, err := t.machine.WriteAccess(t.ctx, e, fakeProber{}, false, nil)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
	assert.Equal(t.T(), uint32(1), e.WriteRefs)
}

func (t *StateTest) TestWriteAccessBlockedByOutstandingRead() {
	e := t.alloc()
	e.Flags = extflags.Clean
	e.ReadRefs = 1

	res, err := t.machine.WriteAccess(t.ctx, e, fakeProber{}, false, nil)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
}

func (t *StateTest) TestWriteAccessRMWPath() {
	e := t.alloc()

	res, err := t.machine.WriteAccess(t.ctx, e, fakeProber{}, true, func() (uint64, error) { return 99, nil })

	require.NoError(t.T(), err)
	assert.Equal(t.T(), NotReady, res)
	assert.True(t.T(), e.Flags.Has(extflags.RMW))
	assert.True(t.T(), e.Flags.Has(extflags.ReadPending))
	assert.Equal(t.T(), uint64(99), e.IOHandle)
	assert.Equal(t.T(), uint32(1), e.WriteRefs)
}

func (t *StateTest) TestWriteAccessRMWResolvesToWriteComm() {
	e := t.alloc()
	e.WriteRefs = 1
	e.Flags = extflags.RMW | extflags.ReadPending
	e.IOHandle = 99

	res, err := t.machine.WriteAccess(t.ctx, e, fakeProber{done: true}, false, nil)

	require.NoError(t.T(), err)
	assert.Equal(t.T(), Ready, res)
	assert.True(t.T(), e.Flags.Has(extflags.WriteComm))
	assert.False(t.T(), e.Flags.Has(extflags.RMW))
	assert.Equal(t.T(), uint32(1), e.WriteRefs)
}

func (t *StateTest) TestCompleteIOFansOutAcrossChain() {
	a := t.alloc()
	b := t.alloc()
	pool.LinkIOChain([]*pool.Extent{a, b})
	a.Flags = extflags.ReadPending
	b.Flags = extflags.ReadPending
	a.IOHandle, b.IOHandle = 5, 5

	t.machine.completeIO(a)

	assert.True(t.T(), a.Flags.Has(extflags.Clean))
	assert.True(t.T(), b.Flags.Has(extflags.Clean))
	assert.Equal(t.T(), pool.InvalidIOHandle, int(a.IOHandle))
	assert.Equal(t.T(), pool.InvalidIOHandle, int(b.IOHandle))
}

func (t *StateTest) TestCompleteReadComm() {
	e := t.alloc()
	e.Flags = extflags.Clean | extflags.ReadComm

	t.machine.CompleteReadComm(e)

	assert.False(t.T(), e.Flags.Has(extflags.ReadComm))
	assert.Equal(t.T(), uint32(1), e.ReadAcks)
}

func (t *StateTest) TestCompleteWriteCommAggressiveAlwaysSyncs() {
	t.machine.Policy = SyncAggressive
	e := t.alloc()
	e.Flags = extflags.WriteComm
	tbl, err := inode.NewTable(4)
	require.NoError(t.T(), err)
	ino := tbl.Lookup(inode.Handle{Collection: 1, Object: 1}, 0)
	ino.Insert(0, e)

	sync := t.machine.CompleteWriteComm(e, ino)

	assert.True(t.T(), sync)
	assert.True(t.T(), e.Flags.Has(extflags.Dirty))
	assert.Equal(t.T(), uint32(1), e.WriteAcks)
	assert.Equal(t.T(), 1, ino.NrDirty())
}

func (t *StateTest) TestCompleteWriteCommLazyWaitsForThreshold() {
	e := t.alloc()
	e.Flags = extflags.WriteComm
	tbl, err := inode.NewTable(4)
	require.NoError(t.T(), err)
	ino := tbl.Lookup(inode.Handle{Collection: 1, Object: 1}, 0)
	ino.Insert(0, e)

	sync := t.machine.CompleteWriteComm(e, ino)

	assert.False(t.T(), sync)
}
