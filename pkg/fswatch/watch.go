package fswatch

import (
	"fmt"
	"os"
	goSync "sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

var fs = afero.NewOsFs()

// Op is the kind of change described by an Event.
type Op int

const (
	// Created means that the path was added.
	Created Op = iota + 1

	// Modified means that the contents or metadata of the path changed.
	Modified

	// Deleted means that the path no longer exists. Renames are reported as
	// the deletion of the old path, followed by the creation of the new one.
	Deleted
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Event is a single change within a watched tree.
type Event struct {
	Op   Op
	Path string

	// IsDir is whether Path is a directory. It's always false for Deleted
	// events because the path can no longer be inspected.
	IsDir bool
}

// Watcher creates subscriptions to the changes within a directory tree.
type Watcher interface {
	Watch(root string) (Subscription, error)
}

// Subscription is a stream of changes within a directory tree. Events are
// delivered in the order they were observed, and are never combined.
type Subscription interface {
	Events() <-chan Event

	// Errors receives problems with the underlying watch, such as dropped
	// events. They don't end the subscription.
	Errors() <-chan error

	// Close stops the subscription and releases its resources. Both channels
	// are closed once it returns.
	Close() error
}

// NewWatcher returns a Watcher backed by the operating system's file
// notification facility.
func NewWatcher() Watcher {
	return notifyWatcher{}
}

type notifyWatcher struct{}

// Watch recursively watches `root`.
func (notifyWatcher) Watch(root string) (Subscription, error) {
	dirs, err := getDirectories(root)
	if err != nil {
		return nil, errors.WithContext(err, "get directories")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	// Because fsnotify doesn't watch directories recursively, we add every
	// directory in the tree.
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	sub := newSubscription(watcher.Events, watcher.Errors, watcher.Add, watcher.Close)
	go sub.run()
	return sub, nil
}

type subscription struct {
	in     <-chan fsnotify.Event
	inErrs <-chan error

	events chan Event
	errors chan error

	addWatch   func(string) error
	closeWatch func() error

	done      chan struct{}
	exited    chan struct{}
	closeOnce goSync.Once
	closeErr  error
}

func newSubscription(in <-chan fsnotify.Event, inErrs <-chan error,
	addWatch func(string) error, closeWatch func() error) *subscription {
	return &subscription{
		in:         in,
		inErrs:     inErrs,
		events:     make(chan Event),
		errors:     make(chan error, 16),
		addWatch:   addWatch,
		closeWatch: closeWatch,
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan Event {
	return s.events
}

func (s *subscription) Errors() <-chan error {
	return s.errors
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.closeWatch()
		<-s.exited
	})
	return s.closeErr
}

func (s *subscription) run() {
	defer func() {
		close(s.events)
		close(s.errors)
		close(s.exited)
	}()

	for {
		select {
		case rawEvent, ok := <-s.in:
			if !ok {
				return
			}

			event, ok := s.translate(rawEvent)
			if !ok {
				continue
			}

			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		case err, ok := <-s.inErrs:
			if !ok {
				return
			}
			s.reportError(err)
		case <-s.done:
			return
		}
	}
}

// translate converts an fsnotify event into an Event. Newly created
// directories are added to the watch before the event is returned so that
// changes within them aren't missed.
func (s *subscription) translate(rawEvent fsnotify.Event) (Event, bool) {
	var op Op
	switch {
	case rawEvent.Op&fsnotify.Create != 0:
		op = Created
	case rawEvent.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		op = Modified
	case rawEvent.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = Deleted
	default:
		return Event{}, false
	}

	event := Event{Op: op, Path: rawEvent.Name}
	if op == Deleted {
		return event, true
	}

	fi, err := fs.Stat(rawEvent.Name)
	if err != nil {
		// The path was removed before we could look at it. Its removal
		// event will follow.
		log.WithError(err).WithField("path", rawEvent.Name).Debug(
			"Ignoring change to path that no longer exists")
		return Event{}, false
	}
	event.IsDir = fi.IsDir()

	if op == Created && event.IsDir {
		s.watchNewDirectory(rawEvent.Name)
	}
	return event, true
}

func (s *subscription) watchNewDirectory(root string) {
	dirs, err := getDirectories(root)
	if err != nil {
		s.reportError(errors.WithContext(err, fmt.Sprintf("list %q", root)))
		return
	}

	for _, dir := range dirs {
		if err := s.addWatch(dir); err != nil {
			s.reportError(errors.WithContext(err, fmt.Sprintf("watch %q", dir)))
		}
	}
}

func (s *subscription) reportError(err error) {
	select {
	case s.errors <- err:
	default:
		log.WithError(err).Warn("Dropped file watch error")
	}
}

// getDirectories returns `root` and every directory beneath it.
func getDirectories(root string) (dirs []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			// Directories may be removed while we're walking.
			if os.IsNotExist(err) && path != root {
				return nil
			}
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
