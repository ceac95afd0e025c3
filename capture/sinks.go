// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ImageSink is a one-shot sink: the first frame resolves Image and
// later frames are ignored. Used for screenshots.
type ImageSink struct {
	mu   sync.Mutex
	img  *image.RGBA
	done chan struct{}
}

// NewImageSink returns an empty one-shot sink.
func NewImageSink() *ImageSink {
	return &ImageSink{done: make(chan struct{})}
}

func (is *ImageSink) Frame(bgra []byte, width, height int, ms int64) error {
	if err := checkSize(bgra, width, height); err != nil {
		return err
	}
	is.mu.Lock()
	defer is.mu.Unlock()
	if is.img != nil {
		return nil
	}
	is.img = BGRAToRGBA(bgra, width, height)
	close(is.done)
	return nil
}

func (is *ImageSink) Close() error { return nil }

// Image blocks until a frame arrives and returns it.
func (is *ImageSink) Image() *image.RGBA {
	<-is.done
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.img
}

// pngJob is one queued frame for the background encoder.
type pngJob struct {
	bgra   []byte
	width  int
	height int
	ms     int64
}

// PNGWorker writes frames as numbered PNG files from a background
// goroutine. When the queue is full, frames are dropped rather than
// stalling the render thread.
type PNGWorker struct {
	Dir    string
	Prefix string

	jobs chan pngJob
	wg   sync.WaitGroup
	n    int
}

// NewPNGWorker starts the encoder goroutine writing into dir.
func NewPNGWorker(dir, prefix string) (*PNGWorker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	pw := &PNGWorker{Dir: dir, Prefix: prefix, jobs: make(chan pngJob, 8)}
	pw.wg.Add(1)
	go pw.run()
	return pw, nil
}

func (pw *PNGWorker) Frame(bgra []byte, width, height int, ms int64) error {
	if err := checkSize(bgra, width, height); err != nil {
		return err
	}
	select {
	case pw.jobs <- pngJob{bgra, width, height, ms}:
	default:
		slog.Warn("capture.PNGWorker: queue full, frame dropped", "ms", ms)
	}
	return nil
}

func (pw *PNGWorker) run() {
	defer pw.wg.Done()
	for job := range pw.jobs {
		img := BGRAToRGBA(job.bgra, job.width, job.height)
		name := fmt.Sprintf("%s%06d_%d.png", pw.Prefix, pw.n, job.ms)
		pw.n++
		fp, err := os.Create(filepath.Join(pw.Dir, name))
		if err != nil {
			slog.Error("capture.PNGWorker: create failed", "file", name, "err", err)
			continue
		}
		if err := png.Encode(fp, img); err != nil {
			slog.Error("capture.PNGWorker: encode failed", "file", name, "err", err)
		}
		fp.Close()
	}
}

// Close drains the queue and stops the worker.
func (pw *PNGWorker) Close() error {
	close(pw.jobs)
	pw.wg.Wait()
	return nil
}
