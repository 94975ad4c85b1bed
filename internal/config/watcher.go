package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadHandler receives the freshly parsed policy file. It is only invoked
// when the file parses and validates; a broken edit keeps the previous
// policies active.
type ReloadHandler func(pf *PolicyFile)

// PolicyWatcher hot-reloads the policy file when it changes on disk. The
// parent directory is watched rather than the file itself so editors that
// replace the file (write to temp, rename over) are still picked up.
type PolicyWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	handler ReloadHandler
	done    chan struct{}
}

func NewPolicyWatcher(path string, handler ReloadHandler) (*PolicyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch policy directory: %w", err)
	}

	pw := &PolicyWatcher{
		watcher: watcher,
		path:    abs,
		handler: handler,
		done:    make(chan struct{}),
	}

	go pw.watch()

	return pw, nil
}

func (pw *PolicyWatcher) Close() error {
	close(pw.done)
	return pw.watcher.Close()
}

func (pw *PolicyWatcher) watch() {
	debounce := time.NewTimer(0)
	<-debounce.C // Drain initial timer

	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}

			if pw.shouldHandle(event) {
				// Debounce rapid changes
				debounce.Reset(500 * time.Millisecond)
				go pw.waitAndReload(debounce)
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("policy watcher error")

		case <-pw.done:
			return
		}
	}
}

func (pw *PolicyWatcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}

	ext := filepath.Ext(event.Name)
	if ext != ".yaml" && ext != ".yml" {
		return false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return abs == pw.path
}

func (pw *PolicyWatcher) waitAndReload(timer *time.Timer) {
	<-timer.C

	pf, err := LoadPolicyFile(pw.path)
	if err != nil {
		log.Error().Err(err).Str("path", pw.path).Msg("policy reload failed, keeping previous policies")
		return
	}

	log.Info().Str("path", pw.path).Int("servers", len(pf.Servers)).Msg("policy file reloaded")
	pw.handler(pf)
}
