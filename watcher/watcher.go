package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/yoanbernabeu/codeindex/indexer"
)

type EventType int

const (
	EventCreate EventType = iota
	EventChange
	EventDelete
)

// FileEvent is a raw change notification for an absolute file path.
type FileEvent struct {
	Type EventType
	Path string
}

// EventSource feeds file events to the incremental watcher. Events must be
// closed once the source stops.
type EventSource interface {
	Events() <-chan FileEvent
	Close() error
}

// dirFilter is the part of the ignore matcher the recursive watch needs.
type dirFilter interface {
	ShouldSkipDir(relPath string) bool
}

// FSSource watches a workspace with fsnotify. fsnotify is not recursive, so
// every non-ignored directory gets its own watch and new directories are added
// as they appear.
type FSSource struct {
	root    string
	watcher *fsnotify.Watcher
	ignore  dirFilter
	events  chan FileEvent
	done    chan struct{}

	closeOnce sync.Once
}

func NewFSSource(root string, ignore *indexer.IgnoreMatcher) (*FSSource, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &FSSource{
		root:    root,
		watcher: fsw,
		events:  make(chan FileEvent, 256),
		done:    make(chan struct{}),
	}
	if ignore != nil {
		s.ignore = ignore
	}
	return s, nil
}

// Start registers the directory watches and begins translating events.
func (s *FSSource) Start(ctx context.Context) error {
	if err := s.addRecursive(s.root, false); err != nil {
		return err
	}
	go s.processEvents(ctx)
	return nil
}

func (s *FSSource) Events() <-chan FileEvent {
	return s.events
}

func (s *FSSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

// addRecursive watches dir and its subdirectories. With announce set, files
// already inside are reported as created, since they may have been written
// before the watch existed.
func (s *FSSource) addRecursive(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if relPath != "." && s.ignore != nil && s.ignore.ShouldSkipDir(relPath) {
				return filepath.SkipDir
			}
			if err := s.watcher.Add(path); err != nil {
				log.Printf("Failed to watch %s: %v", path, err)
			}
			return nil
		}

		if announce && d.Type().IsRegular() && indexer.IsSupported(path) {
			s.emit(FileEvent{Type: EventCreate, Path: path})
		}
		return nil
	})
}

func (s *FSSource) processEvents(ctx context.Context) {
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Printf("Warning: watcher event queue overflowed, some changes were missed")
				continue
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

func (s *FSSource) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := s.addRecursive(event.Name, true); err != nil {
				log.Printf("Failed to add new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	var evType EventType
	switch {
	case event.Has(fsnotify.Create):
		evType = EventCreate
	case event.Has(fsnotify.Write):
		evType = EventChange
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		evType = EventDelete
	default:
		return
	}

	if !indexer.IsSupported(event.Name) {
		return
	}
	s.emit(FileEvent{Type: evType, Path: event.Name})
}

func (s *FSSource) emit(ev FileEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventChange:
		return "change"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}
