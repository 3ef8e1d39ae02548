package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adalundhe/notepatch/core/storage"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Watch reloads the configuration whenever a config file changes, until ctx
// is done or the manager is closed. Reload failures are logged and the
// previous configuration stays active.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := 0
	for _, dir := range m.watchDirs() {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.logger.Warn("config watch failed", "dir", dir, "error", err)
			continue
		}
		added++
	}
	m.logger.Debug("watching config", "dirs", added)

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchDirs() []string {
	project := storage.ResolveProjectDirs(m.projectRoot)
	dirs := []string{project.Root, m.dirs.Config, project.Local}
	if m.explicitFile != "" {
		dirs = append(dirs, filepath.Dir(m.explicitFile))
	}
	return dirs
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopWatch:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !m.isConfigFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DefaultDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if err := m.Reload(); err != nil {
				m.logger.Warn("config reload failed", "error", err)
				continue
			}
			m.logger.Info("config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) isConfigFile(path string) bool {
	if m.explicitFile != "" && filepath.Clean(path) == filepath.Clean(m.explicitFile) {
		return true
	}
	base := filepath.Base(path)
	for _, name := range configNames {
		if base == name {
			return true
		}
	}
	return false
}
