// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capture receives raw BGRA frames read back from the
// presentation surface and delivers them to encoding sinks. Sinks
// only ever see finished, copied host buffers; they run off the
// render thread and never touch live GPU objects.
package capture

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Sink consumes frames of raw BGRA bytes at presentation resolution.
// Frames arrive sequentially with monotonic millisecond timestamps.
type Sink interface {
	// Frame consumes one frame. The pixel slice is owned by the sink
	// after the call returns.
	Frame(bgra []byte, width, height int, ms int64) error

	// Close flushes and releases the sink.
	Close() error
}

// BGRAToRGBA converts BGRA bytes in place and returns an image backed
// by the same slice.
func BGRAToRGBA(bgra []byte, width, height int) *image.RGBA {
	for i := 0; i+3 < len(bgra); i += 4 {
		bgra[i], bgra[i+2] = bgra[i+2], bgra[i]
	}
	return &image.RGBA{Pix: bgra, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
}

// ScaleTo resizes src to the given size with bilinear filtering.
// Returns src unchanged when the size already matches.
func ScaleTo(src *image.RGBA, width, height int) *image.RGBA {
	if src.Rect.Dx() == width && src.Rect.Dy() == height {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst
}

func checkSize(bgra []byte, width, height int) error {
	if len(bgra) != width*height*4 {
		return fmt.Errorf("capture: %d bytes for %dx%d frame", len(bgra), width, height)
	}
	return nil
}
