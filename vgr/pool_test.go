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

func TestFreeListFirstFit(t *testing.T) {
	fl := newFreeList(1024)

	a, err := fl.alloc(256, 16)
	require.NoError(t, err)
	assert.Equal(t, 0, a)

	b, err := fl.alloc(256, 16)
	require.NoError(t, err)
	assert.Equal(t, 256, b)

	c, err := fl.alloc(256, 16)
	require.NoError(t, err)
	assert.Equal(t, 512, c)

	// freeing the middle range makes it reusable first-fit
	fl.release(b, 256)
	d, err := fl.alloc(128, 16)
	require.NoError(t, err)
	assert.Equal(t, 256, d)

	_, err = fl.alloc(512, 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
}

func TestFreeListCoalesce(t *testing.T) {
	fl := newFreeList(1024)
	a, _ := fl.alloc(256, 1)
	b, _ := fl.alloc(256, 1)
	c, _ := fl.alloc(256, 1)
	d, _ := fl.alloc(256, 1)

	// release out of order; neighbors must merge back to one range
	fl.release(b, 256)
	fl.release(d, 256)
	fl.release(c, 256)
	fl.release(a, 256)
	require.Len(t, fl.free, 1)
	assert.Equal(t, span{0, 1024}, fl.free[0])

	full, err := fl.alloc(1024, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, full)
}

func TestFreeListAlignedSplitKeepsOrder(t *testing.T) {
	fl := newFreeList(2048)
	_, err := fl.alloc(10, 1)
	require.NoError(t, err)
	b, _ := fl.alloc(500, 1)
	_, _ = fl.alloc(500, 1)
	d, _ := fl.alloc(1038, 1)
	fl.release(b, 500)
	fl.release(d, 1038)

	// an aligned alloc out of the first span splits it into a leading
	// pad and a tail; both must stay in offset order in the free list
	off, err := fl.alloc(100, 16)
	require.NoError(t, err)
	assert.Equal(t, 16, off)
	require.Len(t, fl.free, 3)
	assert.Equal(t, span{10, 6}, fl.free[0])
	assert.Equal(t, span{116, 394}, fl.free[1])
	assert.Equal(t, span{1010, 1038}, fl.free[2])

	// releasing the range coalesces with both split remainders
	fl.release(off, 100)
	require.Len(t, fl.free, 2)
	assert.Equal(t, span{10, 500}, fl.free[0])
	assert.Equal(t, span{1010, 1038}, fl.free[1])
	assert.Equal(t, 1538, fl.total())
}

func TestFreeListAlignmentPadding(t *testing.T) {
	fl := newFreeList(1024)
	_, err := fl.alloc(10, 1)
	require.NoError(t, err)

	// aligned alloc skips the 6-byte pad, which stays free
	off, err := fl.alloc(100, 16)
	require.NoError(t, err)
	assert.Equal(t, 16, off)

	pad, err := fl.alloc(6, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, pad)
}
