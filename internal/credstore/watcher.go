package credstore

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch observes the auth directory and logs external bundle changes.
// Load re-reads from disk on every use, so no cache invalidation is needed;
// the watcher exists so operators can see rotation happen.
func Watch(dir string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !authFilePattern.MatchString(name) {
					continue
				}
				switch {
				case event.Op.Has(fsnotify.Create):
					log.Infof("Credential bundle appeared: %s", name)
				case event.Op.Has(fsnotify.Write):
					log.Infof("Credential bundle updated: %s", name)
				case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
					log.Warnf("Credential bundle removed: %s", name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Auth directory watcher error")
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
