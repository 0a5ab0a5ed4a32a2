package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and hands the
// new configuration to onChange. A file that fails to load or validate is
// logged and skipped, so onChange only ever sees valid configs. Watching
// stops when ctx is done.
//
// The parent directory is watched rather than the file, since editors often
// replace the file by renaming over it.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", abs).Msg("Config watcher error")
			case <-fire:
				fire = nil
				cfg, err := Load(abs)
				if err != nil {
					log.Warn().Err(err).Str("path", abs).Msg("Ignoring invalid config change")
					continue
				}
				log.Info().Str("path", abs).Msg("Config reloaded")
				onChange(cfg)
			}
		}
	}()

	log.Info().Str("path", abs).Msg("Config file watcher started")
	return nil
}
