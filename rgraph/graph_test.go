// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rgraph

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deferredConfig() *Config {
	return &Config{
		Targets: []TargetConfig{
			{Name: "gbuffer", Attachments: []AttachmentConfig{
				{Key: "color", Format: "rgba16f"},
				{Key: "normal", Format: "rgba16f"},
				{Key: "depth", Format: "depth32"},
			}},
			{Name: "lit", Attachments: []AttachmentConfig{
				{Key: "color", Format: "rgba8"},
			}},
		},
		Passes: []PassConfig{
			{Name: "compose", Type: "post-process-quad", Inputs: []string{"lit"}, Output: "window", Clear: true},
			{Name: "geometry", Type: "geometry", Output: "gbuffer", Clear: true},
			{Name: "lighting", Type: "lights", Inputs: []string{"gbuffer.color", "gbuffer.normal"}, Output: "lit", Clear: true},
		},
	}
}

// checks that order is a valid topological order of output->input edges
func assertTopoOrder(t *testing.T, passes []PassConfig, order []int) {
	t.Helper()
	pos := make(map[int]int, len(order))
	for at, pi := range order {
		pos[pi] = at
	}
	writers := map[string][]int{}
	for i := range passes {
		writers[passes[i].Output] = append(writers[passes[i].Output], i)
	}
	for i := range passes {
		for _, in := range passes[i].Inputs {
			tgt, _ := splitInput(in)
			for _, w := range writers[tgt] {
				if w == i {
					continue
				}
				assert.Less(t, pos[w], pos[i],
					"pass %s must run after producer %s", passes[i].Name, passes[w].Name)
			}
		}
	}
}

func TestOrderPasses(t *testing.T) {
	cfg := deferredConfig()
	require.NoError(t, cfg.Validate())

	order, err := orderPasses(cfg.Passes)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assertTopoOrder(t, cfg.Passes, order)

	// terminal pass comes last even though it is declared first
	assert.Equal(t, "compose", cfg.Passes[order[2]].Name)
	assert.Equal(t, "geometry", cfg.Passes[order[0]].Name)
	assert.Equal(t, "lighting", cfg.Passes[order[1]].Name)
}

func TestOrderSharedOutput(t *testing.T) {
	passes := []PassConfig{
		{Name: "final", Type: "post-process-quad", Inputs: []string{"scene"}, Output: "window"},
		{Name: "opaque", Type: "geometry", Output: "scene"},
		{Name: "transparent", Type: "geometry", Output: "scene"},
	}
	order, err := orderPasses(passes)
	require.NoError(t, err)
	assertTopoOrder(t, passes, order)

	pos := map[string]int{}
	for at, pi := range order {
		pos[passes[pi].Name] = at
	}
	// passes sharing a target keep declaration order
	assert.Less(t, pos["opaque"], pos["transparent"])
	assert.Equal(t, 2, pos["final"])
}

func TestOrderRejectsCycles(t *testing.T) {
	passes := []PassConfig{
		{Name: "a", Type: "geometry", Inputs: []string{"tb"}, Output: "ta"},
		{Name: "b", Type: "geometry", Inputs: []string{"ta"}, Output: "tb"},
		{Name: "final", Type: "post-process-quad", Inputs: []string{"tb"}, Output: "window"},
	}
	_, err := orderPasses(passes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestOrderSkipsUnmatchedInput(t *testing.T) {
	passes := []PassConfig{
		{Name: "main", Type: "geometry", Inputs: []string{"nosuch"}, Output: "window"},
	}
	order, err := orderPasses(passes)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, order)
}

func TestConfigValidate(t *testing.T) {
	cfg := deferredConfig()
	require.NoError(t, cfg.Validate())

	bad := deferredConfig()
	bad.Passes[1].Name = "compose"
	assert.Error(t, bad.Validate())

	bad = deferredConfig()
	bad.Targets[0].Attachments[0].Format = "r5g6b5"
	assert.Error(t, bad.Validate())

	bad = deferredConfig()
	bad.Passes[0].Output = "lit"
	assert.Error(t, bad.Validate(), "no terminal pass")

	bad = deferredConfig()
	bad.Passes[1].Output = "window"
	assert.Error(t, bad.Validate(), "two terminal passes")

	bad = deferredConfig()
	bad.Passes[2].Type = "shadow"
	assert.Error(t, bad.Validate())

	bad = deferredConfig()
	bad.Passes[1].Output = "nosuch"
	assert.Error(t, bad.Validate())
}

func TestSplitInput(t *testing.T) {
	tgt, key := splitInput("gbuffer.normal")
	assert.Equal(t, "gbuffer", tgt)
	assert.Equal(t, "normal", key)

	tgt, key = splitInput("lit")
	assert.Equal(t, "lit", tgt)
	assert.Equal(t, "", key)
}

func TestViewportPx(t *testing.T) {
	ps := &Pass{Config: &PassConfig{}, Width: 800, Height: 600}
	assert.Equal(t, image.Rect(0, 0, 800, 600), ps.ViewportPx())

	ps.Config.Viewport = [4]float32{0.25, 0.5, 0.5, 0.5}
	assert.Equal(t, image.Rect(200, 300, 600, 600), ps.ViewportPx())

	// the fractional viewport tracks a resized output exactly
	ps.Width, ps.Height = 1920, 1080
	assert.Equal(t, image.Rect(480, 540, 1440, 1080), ps.ViewportPx())
}
