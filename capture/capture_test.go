// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidBGRA fills a frame with one color in BGRA byte order.
func solidBGRA(width, height int, c color.RGBA) []byte {
	px := make([]byte, width*height*4)
	for i := 0; i < len(px); i += 4 {
		px[i+0] = c.B
		px[i+1] = c.G
		px[i+2] = c.R
		px[i+3] = c.A
	}
	return px
}

func TestBGRAToRGBA(t *testing.T) {
	want := color.RGBA{R: 10, G: 20, B: 30, A: 255}
	img := BGRAToRGBA(solidBGRA(4, 3, want), 4, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, want, img.RGBAAt(x, y))
		}
	}
}

func TestImageSink(t *testing.T) {
	is := NewImageSink()
	want := color.RGBA{R: 200, G: 0, B: 100, A: 255}
	require.NoError(t, is.Frame(solidBGRA(8, 8, want), 8, 8, 42))

	// later frames are ignored
	require.NoError(t, is.Frame(solidBGRA(8, 8, color.RGBA{A: 255}), 8, 8, 43))

	img := is.Image()
	require.NotNil(t, img)
	assert.Equal(t, want, img.RGBAAt(3, 5))

	assert.Error(t, is.Frame([]byte{1, 2, 3}, 8, 8, 44))
}

func TestScaleTo(t *testing.T) {
	img := BGRAToRGBA(solidBGRA(16, 16, color.RGBA{R: 255, A: 255}), 16, 16)
	same := ScaleTo(img, 16, 16)
	assert.Same(t, img, same)

	small := ScaleTo(img, 4, 4)
	assert.Equal(t, 4, small.Rect.Dx())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, small.RGBAAt(2, 2))
}

func TestPNGWorker(t *testing.T) {
	dir := t.TempDir()
	pw, err := NewPNGWorker(dir, "frame_")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, pw.Frame(solidBGRA(4, 4, color.RGBA{G: 128, A: 255}), 4, 4, int64(i*16)))
	}
	require.NoError(t, pw.Close())

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 3)
	for _, ent := range ents {
		assert.Equal(t, ".png", filepath.Ext(ent.Name()))
	}
}
