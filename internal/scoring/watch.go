package scoring

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchTerms reloads detector whenever the terms file at path is written or
// replaced. It watches the parent directory so editors that save by rename are
// picked up. The watch stops when ctx is cancelled.
func WatchTerms(ctx context.Context, detector *BiasDetector, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create terms watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := detector.Reload(target); err != nil {
					logrus.WithError(err).WithField("path", target).Warn("reload bias terms")
					continue
				}
				logrus.WithFields(logrus.Fields{
					"path":  target,
					"terms": len(detector.Terms()),
				}).Info("bias terms reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("bias terms watcher")
			}
		}
	}()
	return nil
}
