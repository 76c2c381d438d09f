package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes on disk and hands each config that
// loads cleanly to apply. A file that fails to load is logged and the
// previous settings stay in force. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	log.Printf("CONFIG: watching %s for changes", abs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(event.Name) != abs {
				continue
			}
			c, err := Load(abs)
			if err != nil {
				log.Printf("CONFIG: reload failed, keeping previous settings: %v", err)
				continue
			}
			log.Printf("CONFIG: reloaded %s: recursion=%d invocation=%d command_nest=%d",
				filepath.Base(abs), c.Limits.Recursion, c.Limits.Invocation, c.Limits.CommandNest)
			apply(c)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("CONFIG: watcher error: %v", err)
		}
	}
}
