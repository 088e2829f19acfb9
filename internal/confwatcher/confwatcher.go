// Package confwatcher contains a configuration watcher.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	minInterval    = 1 * time.Second
	additionalWait = 10 * time.Millisecond
)

// ConfWatcher is a configuration file watcher.
type ConfWatcher struct {
	FilePath string

	inner        *fsnotify.Watcher
	absolutePath string

	// out
	signal chan struct{}
	done   chan struct{}
}

// Initialize initializes a ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	if _, err := os.Stat(w.FilePath); err != nil {
		return err
	}

	var err error
	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// use absolute paths to support Darwin
	w.absolutePath, _ = filepath.Abs(w.FilePath)

	// watch the parent directory in order to catch deletions and recreations
	err = w.inner.Add(filepath.Dir(w.absolutePath))
	if err != nil {
		w.inner.Close() //nolint:errcheck
		return err
	}

	w.signal = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	go func() {
		for range w.signal {
		}
	}()
	w.inner.Close() //nolint:errcheck
	<-w.done
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var lastCalled time.Time
	previousWatchedPath, _ := filepath.EvalSymlinks(w.absolutePath)

outer:
	for {
		select {
		case event, ok := <-w.inner.Events:
			if !ok {
				break outer
			}

			if time.Since(lastCalled) < minInterval {
				continue
			}

			currentWatchedPath, _ := filepath.EvalSymlinks(w.absolutePath)

			switch {
			// the watched file is a symlink and its target has changed
			case previousWatchedPath != "" && currentWatchedPath != previousWatchedPath:
				previousWatchedPath = currentWatchedPath

				// wait some additional time to allow the writer to fully write the file
				time.Sleep(additionalWait)

				lastCalled = time.Now()
				w.signal <- struct{}{}

			// the watched file has been modified or recreated
			case (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) &&
				filepath.Clean(event.Name) == w.absolutePath:
				// wait some additional time to allow the writer to fully write the file
				time.Sleep(additionalWait)

				lastCalled = time.Now()
				w.signal <- struct{}{}
			}

		case _, ok := <-w.inner.Errors:
			if !ok {
				break outer
			}
		}
	}

	close(w.signal)
}

// Watch returns a channel that is called when the configuration file has changed.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.signal
}
