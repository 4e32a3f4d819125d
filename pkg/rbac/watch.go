package rbac

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileSource serves the permission table in a YAML file and can reload it
// when the file changes.
type FileSource struct {
	path    string
	current atomic.Pointer[StaticSource]
	logger  logrus.FieldLogger
}

// NewFileSource loads path. It fails if the initial table does not parse.
func NewFileSource(path string, logger logrus.FieldLogger) (*FileSource, error) {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	s := &FileSource{path: abs, logger: logger.WithField("file", abs)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previous table stays in place.
func (s *FileSource) Reload() error {
	src, err := LoadStaticSource(s.path)
	if err != nil {
		return err
	}
	s.current.Store(src)
	return nil
}

// PermissionsForRole implements Source.
func (s *FileSource) PermissionsForRole(ctx context.Context, role Role) ([]Permission, error) {
	return s.current.Load().PermissionsForRole(ctx, role)
}

// Table returns a copy of the loaded table.
func (s *FileSource) Table() map[Role][]Permission {
	return s.current.Load().Table()
}

// Watch reloads the file whenever it is written or replaced and then calls
// onChange, typically Checker.Clear. It returns once the watch is installed;
// watching stops when ctx is done.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors often replace the file, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
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
				if filepath.Clean(event.Name) != s.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.WithError(err).Warn("Keeping previous permission table")
					continue
				}
				s.logger.Info("Reloaded permission table")
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.WithError(err).Warn("Permission file watcher error")
			}
		}
	}()
	return nil
}
