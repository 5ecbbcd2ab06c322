package config

import (
	"context"
	"path/filepath"
	"time"

	"strike/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and hands the
// parsed result to onChange. Events are debounced because editors and config
// management tools write in bursts, and the watch is placed on the parent
// directory so atomic rename-replace saves are still observed. Blocks until
// the context is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)
	logger.Infof("config: watching %s", target)

	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warnf("config: reload failed, keeping previous configuration: %v", err)
				continue
			}
			logger.Infof("config: reloaded from %s", target)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config: watch error: %v", err)
		}
	}
}
