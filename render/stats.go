// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"log/slog"
	"time"
)

// Stats is a snapshot of engine counters, published every heartbeat.
type Stats struct {
	// Frames is the total frames presented.
	Frames int

	// Recordings counts command-buffer recordings; Resubmissions
	// counts unchanged reuses.
	Recordings    int
	Resubmissions int

	// Skipped counts push-mode frame skips.
	Skipped int

	// FPS is frames per second over the last heartbeat interval.
	FPS float64

	// PassGPU is the most recent per-pass GPU duration sample.
	PassGPU []time.Duration
}

// heartbeat periodically computes FPS and reports stats. Runs on its
// own goroutine; it only reads counters and copies them out, never
// touching GPU objects.
func (eng *Engine) heartbeat(interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-eng.hbStop:
			return
		case now := <-tick.C:
			st := eng.stats
			st.FPS = float64(st.Frames-eng.beatFrame) / now.Sub(eng.lastBeat).Seconds()
			eng.beatFrame = st.Frames
			eng.lastBeat = now
			if eng.opts.OnStats != nil {
				eng.opts.OnStats(st)
			} else {
				slog.Info("render: heartbeat", "fps", st.FPS,
					"frames", st.Frames, "recordings", st.Recordings,
					"skipped", st.Skipped)
			}
		}
	}
}

// Pacer limits a render loop to a fixed timestep by sleeping off the
// remainder of each interval.
type Pacer struct {
	// Interval is the target frame duration.
	Interval time.Duration

	last time.Time
}

// NewPacer returns a pacer targeting the given frames per second.
func NewPacer(fps int) *Pacer {
	return &Pacer{Interval: time.Second / time.Duration(fps)}
}

// Wait sleeps until the next frame boundary and returns the time
// since the previous Wait.
func (pc *Pacer) Wait() time.Duration {
	now := time.Now()
	if pc.last.IsZero() {
		pc.last = now
		return 0
	}
	elapsed := now.Sub(pc.last)
	if rem := pc.Interval - elapsed; rem > 0 {
		time.Sleep(rem)
		now = time.Now()
		elapsed = now.Sub(pc.last)
	}
	pc.last = now
	return elapsed
}
