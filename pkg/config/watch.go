// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dagforge/dagforge/pkg/logger"
)

// Watcher watches a config file for changes and re-Loads it on write,
// debouncing rapid successive changes. Grounded on the teacher's
// pkg/config/provider.FileProvider watch loop.
type Watcher struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher resolves path to an absolute path and prepares a Watcher.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path %s: %w", path, err)
	}
	return &Watcher{path: abs}, nil
}

// Watch starts watching the config file and returns a channel that
// receives the newly reloaded Config on every debounced change. The
// channel is closed when ctx is canceled or Close is called.
func (w *Watcher) Watch(ctx context.Context) (<-chan *Config, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("config: watcher is closed")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	w.watcher = fw

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch directory %s: %w", dir, err)
	}

	out := make(chan *Config, 1)
	go w.loop(ctx, fw, out)
	return out, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, out chan<- *Config) {
	defer close(out)
	defer fw.Close()

	const debounceDelay = 100 * time.Millisecond
	file := filepath.Base(w.path)

	var timer *time.Timer
	fire := func() {
		cfg, err := Load(w.path)
		if err != nil {
			logger.Get().Warn("config: reload failed", "path", w.path, "error", err)
			return
		}
		select {
		case out <- cfg:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, fire)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Get().Warn("config: file watcher error", "error", err)
		}
	}
}

// Close stops watching. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
