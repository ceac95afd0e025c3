// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// TimestampQuery brackets render passes with GPU timestamps so the
// engine can report per-pass GPU time. Two query slots per pass, one
// pool per frame slot so results from frame N-2 are always complete
// when frame N reuses the pool.
type TimestampQuery struct {
	NPasses int

	pools  []vk.QueryPool
	period float32
	device *Device
}

// NewTimestampQuery makes pools for nframes in-flight slots, each
// bracketing npasses passes.
func NewTimestampQuery(dev *Device, nframes, npasses int) (*TimestampQuery, error) {
	tq := &TimestampQuery{
		NPasses: npasses,
		pools:   make([]vk.QueryPool, nframes),
		period:  dev.GPU.TimestampPeriod(),
		device:  dev,
	}
	for i := range tq.pools {
		var pool vk.QueryPool
		ret := vk.CreateQueryPool(dev.Device, &vk.QueryPoolCreateInfo{
			SType:      vk.StructureTypeQueryPoolCreateInfo,
			QueryType:  vk.QueryTypeTimestamp,
			QueryCount: uint32(2 * npasses),
		}, nil, &pool)
		if ret != vk.Success {
			tq.Release()
			return nil, fmt.Errorf("vgr.NewTimestampQuery: %v", vk.Error(ret))
		}
		tq.pools[i] = pool
	}
	return tq, nil
}

// Reset clears the frame slot's pool. Record before any Begin.
func (tq *TimestampQuery) Reset(cmd vk.CommandBuffer, frame int) {
	vk.CmdResetQueryPool(cmd, tq.pools[frame], 0, uint32(2*tq.NPasses))
}

// Begin records the start timestamp for pass within frame.
func (tq *TimestampQuery) Begin(cmd vk.CommandBuffer, frame, pass int) {
	vk.CmdWriteTimestamp(cmd, vk.PipelineStageTopOfPipeBit, tq.pools[frame], uint32(2*pass))
}

// End records the end timestamp for pass within frame.
func (tq *TimestampQuery) End(cmd vk.CommandBuffer, frame, pass int) {
	vk.CmdWriteTimestamp(cmd, vk.PipelineStageBottomOfPipeBit, tq.pools[frame], uint32(2*pass+1))
}

// Durations returns per-pass GPU durations for a completed frame
// slot. It does not wait: results still pending come back zero.
func (tq *TimestampQuery) Durations(frame int) []time.Duration {
	n := 2 * tq.NPasses
	raw := make([]uint64, n)
	sz := uint64(n * 8)
	ret := vk.GetQueryPoolResults(tq.device.Device, tq.pools[frame], 0, uint32(n),
		sz, unsafe.Pointer(&raw[0]), 8, vk.QueryResultFlags(vk.QueryResult64Bit))
	durs := make([]time.Duration, tq.NPasses)
	if ret != vk.Success {
		return durs
	}
	for i := 0; i < tq.NPasses; i++ {
		ticks := raw[2*i+1] - raw[2*i]
		durs[i] = time.Duration(float64(ticks) * float64(tq.period))
	}
	return durs
}

// Release destroys the query pools.
func (tq *TimestampQuery) Release() {
	if tq == nil {
		return
	}
	for i, pool := range tq.pools {
		if pool != vk.NullQueryPool {
			vk.DestroyQueryPool(tq.device.Device, pool, nil)
			tq.pools[i] = vk.NullQueryPool
		}
	}
}
