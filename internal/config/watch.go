package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"portalbridge/internal/components/telemetry"

	"github.com/fsnotify/fsnotify"
)

const report_watch = "config.watch"

const debounce = 250 * time.Millisecond

// Watch calls notify after the config file `name` or its local override
// changed on disk. Bursts of events (editors writing through a temp file)
// are debounced into a single call. Watch blocks until ctx is done.
func Watch(ctx context.Context, name string, tel telemetry.API, notify func()) error {
	dir := filepath.Dir(name)
	watched := map[string]bool{
		filepath.Clean(name):            true,
		filepath.Clean(LocalPath(name)): true,
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// the directory is watched, editors often replace the file instead of
	// writing to it
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, notify)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				tel.ReportDebug("config changed", "file", ev.Name, "op", ev.Op.String())
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			tel.ReportWarning(report_watch, err)
		}
	}
}
