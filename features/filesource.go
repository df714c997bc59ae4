package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource feeds ConfigFeatures read from a JSON file into an update
// function, re-reading the file whenever it is written, created or renamed
// into place. It is used to override agent-pushed flags during local
// development.
type FileSource struct {
	path     string
	update   func(ConfigFeatures)
	log      *slog.Logger
	debounce time.Duration
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithFileLogger sets the logger for read and watch failures.
func WithFileLogger(l *slog.Logger) FileSourceOption {
	return func(s *FileSource) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDebounce coalesces bursts of file events. Defaults to 50ms; 0 disables.
func WithDebounce(d time.Duration) FileSourceOption {
	return func(s *FileSource) { s.debounce = d }
}

// NewFileSource returns a source for path that calls update with each parsed
// snapshot. update is typically Hub.Update, or a wrapper that marshals the
// call onto the serialized execution context.
func NewFileSource(path string, update func(ConfigFeatures), opts ...FileSourceOption) *FileSource {
	s := &FileSource{path: filepath.Clean(path), update: update, log: slog.Default(), debounce: 50 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load reads and parses the file once.
func (s *FileSource) Load() (ConfigFeatures, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return ConfigFeatures{}, err
	}
	var f ConfigFeatures
	if err := json.Unmarshal(b, &f); err != nil {
		return ConfigFeatures{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return f, nil
}

// Run publishes the current file contents, if any, then watches the file's
// directory until ctx ends. Editors commonly replace files by rename, so the
// directory is watched rather than the file itself.
func (s *FileSource) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	s.publish(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if s.debounce <= 0 {
				s.publish(ctx)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			s.publish(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.WarnContext(ctx, "features.file.watch_error", slog.String("path", s.path), slog.String("err", err.Error()))
		}
	}
}

func (s *FileSource) publish(ctx context.Context) {
	f, err := s.Load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		s.log.WarnContext(ctx, "features.file.read_error", slog.String("path", s.path), slog.String("err", err.Error()))
		return
	}
	s.log.DebugContext(ctx, "features.file.loaded", slog.String("path", s.path))
	s.update(f)
}
