// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformRingOffsets(t *testing.T) {
	// block 100 with alignment 256 strides at 256
	stride := MemSizeAlign(100, 256)
	require.Equal(t, 256, stride)
	ur := newUniformRingLayout("objects", 100, stride, 8, 3)

	assert.Equal(t, uint32(0), ur.DynOffset(0, 0))
	assert.Equal(t, uint32(256), ur.DynOffset(0, 1))
	assert.Equal(t, uint32(8*256), ur.DynOffset(1, 0))
	assert.Equal(t, uint32(8*256+2*256), ur.DynOffset(1, 2))
	assert.Equal(t, uint32(2*8*256+7*256), ur.DynOffset(2, 7))

	// frame banks never overlap
	assert.Greater(t, ur.DynOffset(1, 0), ur.DynOffset(0, 7))
	assert.Len(t, ur.staging, 3*8*256)
}

func TestUniformRingSlots(t *testing.T) {
	ur := newUniformRingLayout("objects", 64, 64, 2, 2)
	a, err := ur.Alloc()
	require.NoError(t, err)
	b, err := ur.Alloc()
	require.NoError(t, err)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	_, err = ur.Alloc()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))

	// freed slots come back before the error case recurs
	ur.Free(a)
	c, err := ur.Alloc()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	_, err = ur.Alloc()
	require.Error(t, err)
}

func TestUniformRingWrite(t *testing.T) {
	ur := newUniformRingLayout("objects", 16, 32, 4, 2)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	assert.False(t, ur.Dirty(0))
	require.NoError(t, ur.Write(0, 2, data))
	assert.True(t, ur.Dirty(0))
	assert.False(t, ur.Dirty(1))

	off := int(ur.DynOffset(0, 2))
	assert.Equal(t, data, ur.staging[off:off+16])

	// writes to frame 1 land in its own bank
	require.NoError(t, ur.Write(1, 2, data))
	off1 := int(ur.DynOffset(1, 2))
	assert.NotEqual(t, off, off1)
	assert.Equal(t, data, ur.staging[off1:off1+16])

	assert.Error(t, ur.Write(0, 0, data[:8]))
	assert.Error(t, ur.Write(0, 99, data))
}
