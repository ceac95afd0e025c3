// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rgraph builds the render-pass graph from a declarative
// config: named render targets with attachment lists, and named
// passes wired together by output to input name matching.
package rgraph

import (
	"fmt"
	"path/filepath"
	"strings"

	"cogentcore.org/core/base/iox/jsonx"
	"cogentcore.org/core/base/iox/tomlx"

	"github.com/halcyon-engine/halcyon/vgr"
)

// WindowTarget is the reserved output name that sends a pass to the
// presentation surface instead of an offscreen target.
const WindowTarget = "window"

// PassType selects the recording function for a pass.
type PassType int32 //enums:enum

const (
	// Geometry renders the visible scene nodes.
	Geometry PassType = iota

	// Lights renders light volumes additively over a geometry pass.
	Lights

	// PostQuad renders one full-viewport quad sampling its inputs.
	PostQuad
)

var passTypeNames = map[string]PassType{
	"geometry":          Geometry,
	"lights":            Lights,
	"post-process-quad": PostQuad,
}

// AttachmentConfig is one attachment of a render target, with a
// semantic key the pass inputs can reference.
type AttachmentConfig struct {
	// Key is the semantic name, e.g. "color", "normal", "depth".
	Key string

	// Format is a pixel format name: bgra8, rgba8, rgba16f, depth32.
	Format string
}

// TargetConfig is one named offscreen render target.
type TargetConfig struct {
	Name string

	// SizeFactor scales the target relative to the window, after the
	// global supersampling factor. 1 when zero.
	SizeFactor float32

	// Attachments is the ordered attachment list.
	Attachments []AttachmentConfig
}

// PassConfig is one named pass.
type PassConfig struct {
	Name string

	// Type is geometry, lights, or post-process-quad.
	Type string

	// Inputs are target names, optionally attachment qualified as
	// "target.key", consumed in order as sampler bindings.
	Inputs []string

	// Output is a target name, or "window" for the terminal pass.
	Output string

	// Shader is the default shader set for nodes in this pass.
	Shader string

	// Viewport is offset and size as window fractions: x, y, w, h.
	// Zero value means the full output.
	Viewport [4]float32

	// ClearColor is the RGBA clear value when Clear is set.
	ClearColor [4]float32

	// ClearDepth is the depth clear value, 1 when zero.
	ClearDepth float32

	// Clear clears the output attachments at pass start.
	Clear bool

	// BlitInputs copies inputs into the output with explicit blits
	// instead of exposing them as sampler bindings.
	BlitInputs bool
}

// Config is the full render graph document.
type Config struct {
	// Supersample scales every window-relative target. 1 when zero.
	Supersample float32

	Targets []TargetConfig
	Passes  []PassConfig
}

// OpenConfig loads a graph config from a TOML or JSON file by
// extension and validates it.
func OpenConfig(filename string) (*Config, error) {
	cfg := &Config{}
	var err error
	switch filepath.Ext(filename) {
	case ".json":
		err = jsonx.Open(cfg, filename)
	default:
		err = tomlx.Open(cfg, filename)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks names, formats, and pass wiring. It runs before any
// GPU object is created, so a bad config never allocates.
func (cfg *Config) Validate() error {
	if len(cfg.Passes) == 0 {
		return fmt.Errorf("rgraph: config has no passes")
	}
	targets := map[string]*TargetConfig{}
	for i := range cfg.Targets {
		tg := &cfg.Targets[i]
		if tg.Name == "" || tg.Name == WindowTarget {
			return fmt.Errorf("rgraph: bad target name %q", tg.Name)
		}
		if _, dup := targets[tg.Name]; dup {
			return fmt.Errorf("rgraph: duplicate target %q", tg.Name)
		}
		if len(tg.Attachments) == 0 {
			return fmt.Errorf("rgraph: target %q has no attachments", tg.Name)
		}
		for _, at := range tg.Attachments {
			if _, ok := vgr.FormatByName(at.Format); !ok {
				return fmt.Errorf("rgraph: target %q attachment %q: unknown format %q", tg.Name, at.Key, at.Format)
			}
		}
		targets[tg.Name] = tg
	}
	terminal := 0
	seen := map[string]bool{}
	for i := range cfg.Passes {
		ps := &cfg.Passes[i]
		if ps.Name == "" {
			return fmt.Errorf("rgraph: pass %d has no name", i)
		}
		if seen[ps.Name] {
			return fmt.Errorf("rgraph: duplicate pass %q", ps.Name)
		}
		seen[ps.Name] = true
		if _, ok := passTypeNames[ps.Type]; !ok {
			return fmt.Errorf("rgraph: pass %q: unknown type %q", ps.Name, ps.Type)
		}
		if ps.Output == WindowTarget {
			terminal++
		} else if _, ok := targets[ps.Output]; !ok {
			return fmt.Errorf("rgraph: pass %q: unknown output target %q", ps.Name, ps.Output)
		}
	}
	if terminal != 1 {
		return fmt.Errorf("rgraph: config needs exactly one pass writing %q, have %d", WindowTarget, terminal)
	}
	return nil
}

// splitInput separates an input reference into target name and
// optional attachment key.
func splitInput(in string) (target, key string) {
	if i := strings.IndexByte(in, '.'); i >= 0 {
		return in[:i], in[i+1:]
	}
	return in, ""
}
