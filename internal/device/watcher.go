package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// capturePrefixes are the device node names that belong to cameras and sound cards.
var capturePrefixes = []string{"video", "pcmC", "controlC"}

// IsCaptureNode reports whether a device node name belongs to a capture device.
func IsCaptureNode(name string) bool {
	base := filepath.Base(name)
	for _, p := range capturePrefixes {
		if strings.HasPrefix(base, p) {
			return true
		}
	}
	return false
}

// Watcher monitors device node directories and reports hot-plug changes.
// Bursts of events are coalesced into one callback per debounce window.
type Watcher struct {
	paths    []string
	debounce time.Duration
	onChange func()
	logger   zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for paths. onChange runs on its own goroutine.
func NewWatcher(paths []string, debounce time.Duration, onChange func()) *Watcher {
	return &Watcher{
		paths:    paths,
		debounce: debounce,
		onChange: onChange,
		logger:   pkglog.Component("device-watcher"),
	}
}

// Run watches until ctx is cancelled. Paths that do not exist are skipped;
// if none can be watched Run returns an error.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, p := range w.paths {
		if _, err := os.Stat(p); err != nil {
			w.logger.Warn().Str("path", p).Msg("device path missing, not watching")
			continue
		}
		if err := watcher.Add(p); err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("failed to watch device path")
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no device paths could be watched")
	}

	w.logger.Info().Strs("paths", w.paths).Msg("watching for device changes")

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !IsCaptureNode(event.Name) {
				continue
			}
			w.logger.Debug().Str("node", event.Name).Str("op", event.Op.String()).Msg("device node changed")
			w.schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("device watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
