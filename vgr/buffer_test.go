// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSizeAlign(t *testing.T) {
	assert.Equal(t, 16, MemSizeAlign(12, 16))
	assert.Equal(t, 16, MemSizeAlign(16, 16))
	assert.Equal(t, 256, MemSizeAlign(100, 256))
	assert.Equal(t, 256, MemSizeAlign(256, 256))
	assert.Equal(t, 512, MemSizeAlign(257, 256))
	assert.Equal(t, 0, MemSizeAlign(0, 256))
	assert.Equal(t, 7, MemSizeAlign(7, 1))
}

func TestHostBufferAligned(t *testing.T) {
	bf := NewHostBuffer("test", 100, 256, true)
	assert.Equal(t, 100, bf.Size)
	assert.Equal(t, 256, bf.AllocatedSize)
	assert.Equal(t, 256, bf.Align)
	assert.True(t, bf.IsHostOnly())
	bf.Release()

	bf = NewHostBuffer("test", 100, 256, false)
	assert.Equal(t, 100, bf.AllocatedSize)
	assert.Equal(t, 1, bf.Align)
	bf.Release()
}

func TestHostBufferCopyRoundtrip(t *testing.T) {
	bf := NewHostBuffer("roundtrip", 64, 16, true)
	defer bf.Release()
	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i * 3)
	}
	require.NoError(t, bf.CopyFrom(src))
	dst := make([]byte, 64)
	require.NoError(t, bf.CopyTo(dst))
	assert.True(t, bytes.Equal(src, dst))

	big := make([]byte, 1024)
	assert.Error(t, bf.CopyFrom(big))
}

func TestBufferSubAlloc(t *testing.T) {
	bf := NewHostBuffer("suballoc", 1024, 1, false)
	defer bf.Release()

	off, err := bf.Alloc(100, 256)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
	assert.Equal(t, 100, bf.Cursor())

	// next allocation starts at the aligned boundary
	off, err = bf.Alloc(100, 256)
	require.NoError(t, err)
	assert.Equal(t, 256, off)

	off, err = bf.Alloc(512, 256)
	require.NoError(t, err)
	assert.Equal(t, 512, off)

	_, err = bf.Alloc(1, 256)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))

	bf.Reset()
	off, err = bf.Alloc(1024, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
}
