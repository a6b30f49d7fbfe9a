package quads

import (
	"context"
	"path/filepath"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/fsnotify/fsnotify"
)

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// startWatcher watches the manifest and the scene data directory. Changes
// request a reload that the frame handler performs once the files have been
// quiet for ReloadDelay.
func (m *Module) startWatcher(manifest Manifest) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New("creating file watcher failed").Wrap(err)
	}

	manifestPath, err := filepath.Abs(m.ManifestPath)
	if err != nil {
		watcher.Close()
		return errors.New("resolving manifest path failed").Wrap(err)
	}

	dataDir, err := filepath.Abs(manifest.DataDir)
	if err != nil {
		watcher.Close()
		return errors.New("resolving scene data directory failed").Wrap(err)
	}

	dirs := []string{filepath.Dir(manifestPath)}
	if dataDir != dirs[0] {
		dirs = append(dirs, dataDir)
	}

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return errors.New("watching directory failed").
				WithTag("dir", dir).
				Wrap(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopWatcher = cancel
	m.watcherDone = done

	go func() {
		defer close(done)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&changeOps == 0 {
					continue
				}
				if !isSceneFile(event.Name, manifestPath, dataDir) {
					continue
				}

				logs.WithTag("file", event.Name).
					WithTag("op", event.Op.String()).
					Debug("scene file changed")

				m.lastChange.Store(time.Now().UnixNano())
				m.reloadRequested.Store(true)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logs.WithTag("manifest", manifestPath).
					Warn(errors.New("scene watcher error").Wrap(err))
			}
		}
	}()

	return nil
}

func isSceneFile(name, manifestPath, dataDir string) bool {
	name, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if name == manifestPath {
		return true
	}
	if filepath.Dir(name) != dataDir {
		return false
	}

	switch filepath.Ext(name) {
	case ".zstd", ".jpg":
		return true
	default:
		return false
	}
}
