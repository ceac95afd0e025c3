// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ShaderWatcher watches the source files of file-backed shader sets
// and delivers the names of changed sets on Changed, debounced so a
// compile that rewrites both stages produces one event.
type ShaderWatcher struct {
	// Changed receives the name of each shader set whose files changed.
	Changed chan string

	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	byVal map[string]string // file path -> shader set name
	dirs  map[string]bool
	quit  chan struct{}
}

// NewShaderWatcher starts a watcher goroutine. Close stops it.
func NewShaderWatcher() (*ShaderWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	sw := &ShaderWatcher{
		Changed:  make(chan string, 16),
		watcher:  fw,
		debounce: 100 * time.Millisecond,
		byVal:    make(map[string]string),
		dirs:     make(map[string]bool),
		quit:     make(chan struct{}),
	}
	go sw.run()
	return sw, nil
}

// Watch registers a shader set's source files. Sets without file
// backing are ignored.
func (sw *ShaderWatcher) Watch(ss *ShaderSet) error {
	if ss.VertexPath == "" {
		return nil
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for _, p := range []string{ss.VertexPath, ss.FragmentPath} {
		ap, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		sw.byVal[ap] = ss.Name
		dir := filepath.Dir(ap)
		if !sw.dirs[dir] {
			if err := sw.watcher.Add(dir); err != nil {
				return err
			}
			sw.dirs[dir] = true
		}
	}
	return nil
}

func (sw *ShaderWatcher) run() {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-sw.quit:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			ap, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			sw.mu.Lock()
			name, hit := sw.byVal[ap]
			sw.mu.Unlock()
			if !hit {
				continue
			}
			pending[name] = true
			if timer == nil {
				timer = time.NewTimer(sw.debounce)
			} else {
				timer.Reset(sw.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			for name := range pending {
				select {
				case sw.Changed <- name:
				default:
					slog.Warn("vgr.ShaderWatcher: change dropped, channel full", "shader", name)
				}
			}
			clear(pending)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("vgr.ShaderWatcher: watch error", "err", err)
		}
	}
}

// Close stops the watcher goroutine and releases OS watches.
func (sw *ShaderWatcher) Close() error {
	close(sw.quit)
	return sw.watcher.Close()
}
