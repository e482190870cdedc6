package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/achilleasa/lumen/log"
)

var logger = log.New("config")

// Watcher reloads a configuration file whenever it changes.
type Watcher struct {
	path   string
	format Format
	onLoad func(Config, error)

	watcher *fsnotify.Watcher

	// Contents of the last reload; rewrites with identical contents are
	// ignored.
	last []byte

	closeOnce sync.Once
	doneChan  chan struct{}
}

// Watch the configuration file at path and invoke onLoad with the parsed
// configuration after each change. Parse failures are reported through
// onLoad and do not stop the watcher. The parent directory is watched so
// that editors replacing the file are handled.
func Watch(path string, onLoad func(Config, error)) (*Watcher, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err = fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		format:   format,
		onLoad:   onLoad,
		watcher:  fw,
		doneChan: make(chan struct{}),
	}
	if data, err := os.ReadFile(abs); err == nil {
		w.last = data
	}

	go w.run()
	logger.Infof("watching %s for changes", abs)
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneChan)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warningf("watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// The file may be mid-replace; the next event picks it up
		logger.Debugf("skipping reload of %s: %v", w.path, err)
		return
	}
	if bytes.Equal(data, w.last) {
		return
	}
	w.last = data

	cfg, err := Parse(data, w.format)
	if err != nil {
		logger.Warningf("reloading %s: %v", w.path, err)
	} else {
		logger.Noticef("reloaded %s", w.path)
	}
	w.onLoad(cfg, err)
}

// Close stops watching and waits for the event goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.doneChan
	})
	return err
}
