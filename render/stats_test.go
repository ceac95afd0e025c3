// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacer(t *testing.T) {
	pc := NewPacer(100) // 10ms timestep
	assert.Equal(t, 10*time.Millisecond, pc.Interval)

	// first wait establishes the baseline
	assert.Equal(t, time.Duration(0), pc.Wait())

	start := time.Now()
	for i := 0; i < 3; i++ {
		dt := pc.Wait()
		assert.GreaterOrEqual(t, dt, 10*time.Millisecond)
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
