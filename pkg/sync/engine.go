package sync

import (
	"os"
	"path/filepath"
	goSync "sync"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/fswatch"
	"github.com/sidkik/foldersync/pkg/mirror"
)

// State is the lifecycle state of an Engine.
type State int

const (
	// Idle engines aren't mirroring anything.
	Idle State = iota

	// Running engines have completed the initial sync and are propagating
	// changes.
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Options configures an Engine. The zero value is usable.
type Options struct {
	// Watcher provides change notifications for the source tree. Defaults
	// to fswatch.NewWatcher().
	Watcher fswatch.Watcher

	// Log receives the engine's logs. Defaults to the standard logger.
	Log log.FieldLogger

	// Clock is used to time mirror operations.
	Clock clockwork.Clock

	// Except contains glob patterns for paths that are never mirrored. They
	// are matched against the slash-separated path relative to the source,
	// and against the base name.
	Except []string

	// StrictStart makes Start fail with errors.ErrAlreadyRunning if the
	// engine is already running, rather than restarting it.
	StrictStart bool

	// OnFailure is called from the engine's worker for every target that
	// fails to apply a change. It must not call back into the Engine.
	OnFailure func(errors.PropagationFailure)
}

// Stats counts the work done by an Engine since it was created.
type Stats struct {
	// Events is the number of change notifications received.
	Events int

	// Filtered is the number of notifications that weren't propagated.
	Filtered int

	// Propagated is the number of successful target operations.
	Propagated int

	// Failures is the number of failed target operations.
	Failures int
}

// Engine mirrors a source directory into a set of target directories. At most
// one source is watched at a time. It's safe for concurrent use.
type Engine struct {
	watcher     fswatch.Watcher
	log         log.FieldLogger
	clock       clockwork.Clock
	except      []string
	strictStart bool
	onFailure   func(errors.PropagationFailure)

	lock    goSync.Mutex
	running bool
	session session
	sub     fswatch.Subscription
	stop    chan struct{}
	done    chan struct{}

	statsLock goSync.Mutex
	stats     Stats
}

// session is the immutable configuration of a single Start.
type session struct {
	source  string
	targets []string
	filter  filter
}

// New creates an idle Engine.
func New(opts Options) *Engine {
	e := &Engine{
		watcher:     opts.Watcher,
		log:         opts.Log,
		clock:       opts.Clock,
		except:      append([]string{}, opts.Except...),
		strictStart: opts.StrictStart,
		onFailure:   opts.OnFailure,
	}
	if e.watcher == nil {
		e.watcher = fswatch.NewWatcher()
	}
	if e.log == nil {
		e.log = log.StandardLogger()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	return e
}

// Start performs the initial sync of `source` into each of the `targets`,
// then starts propagating changes in the background. It blocks until the
// initial sync completes.
// If the engine is already running, the current mirror is stopped first.
// If Start fails, the engine is left idle.
func (e *Engine) Start(source string, targets []string) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.log.WithFields(log.Fields{
		"source":  source,
		"targets": targets,
	}).Info("Starting folder sync")

	if e.running {
		if e.strictStart && e.activeLocked() {
			return errors.ErrAlreadyRunning
		}
		e.log.Info("Stopping existing sync before starting new one")
		e.stopLocked()
	}

	s, err := e.newSession(source, targets)
	if err != nil {
		return err
	}

	if err := e.initialSync(s); err != nil {
		e.log.WithError(err).Error("Initial sync failed")
		return errors.InitializationFailure{Cause: err}
	}

	sub, err := e.watcher.Watch(s.source)
	if err != nil {
		e.log.WithError(err).Error("Failed to watch for changes")
		return errors.WatchInstallFailure{Cause: err}
	}

	e.session = s
	e.sub = sub
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true
	go e.run(s, sub, e.stop, e.done)

	e.log.WithField("source", s.source).Info("Started watching for changes")
	return nil
}

// Stop stops propagating changes. It waits for the change currently being
// handled, if any, to be applied to every target. Stopping an idle engine is
// a no-op.
func (e *Engine) Stop() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if !e.running {
		return
	}

	e.log.WithField("source", e.session.source).Info("Stopping folder sync")
	close(e.stop)
	<-e.done

	if err := e.sub.Close(); err != nil {
		e.log.WithError(err).Warn("Failed to close file watcher")
	}

	e.running = false
	e.session = session{}
	e.sub = nil
	e.log.Info("Folder sync stopped")
}

// IsRunning returns whether the engine is propagating changes.
func (e *Engine) IsRunning() bool {
	return e.State() == Running
}

// State returns the engine's lifecycle state.
func (e *Engine) State() State {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.activeLocked() {
		return Running
	}
	return Idle
}

// activeLocked returns whether the worker is still propagating changes. The
// worker exits on its own if the watch ends, in which case the engine is
// reported as idle even though it hasn't been stopped.
func (e *Engine) activeLocked() bool {
	if !e.running {
		return false
	}

	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Source returns the directory being mirrored, or the empty string if the
// engine is idle.
func (e *Engine) Source() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.session.source
}

// Targets returns the directories being mirrored to.
func (e *Engine) Targets() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.session.targets...)
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.statsLock.Lock()
	defer e.statsLock.Unlock()
	return e.stats
}

func (e *Engine) updateStats(fn func(*Stats)) {
	e.statsLock.Lock()
	defer e.statsLock.Unlock()
	fn(&e.stats)
}

// newSession validates the arguments to Start. The paths are normally
// validated by the caller already, but mirroring into a bad target would
// leave things in a confusing state.
func (e *Engine) newSession(source string, targets []string) (session, error) {
	source, err := validateFolder(source)
	if err != nil {
		return session{}, err
	}

	var cleanedTargets []string
	for _, target := range targets {
		target, err := validateFolder(target)
		if err != nil {
			return session{}, err
		}

		// Mirroring into the source would cause every copy to trigger
		// another change.
		if _, err := mirror.RelativePath(source, target); err == nil {
			return session{}, errors.ValidationError{
				Path:   target,
				Reason: "target is within the source folder",
			}
		}
		cleanedTargets = append(cleanedTargets, target)
	}

	f, err := newFilter(e.except)
	if err != nil {
		return session{}, errors.WithContext(err, "parse exclusions")
	}
	return session{source: source, targets: cleanedTargets, filter: f}, nil
}

// validateFolder returns the absolute path of `path`, after checking that
// it's a directory. Symlinks to directories are resolved so that the tree
// below them can be walked and watched.
func validateFolder(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WithContext(err, "absolute path")
	}

	fi, err := fs.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.ValidationError{Path: absPath, Reason: "folder does not exist"}
		}
		return "", errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return "", errors.ValidationError{Path: absPath, Reason: "path is not a directory"}
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}
	return absPath, nil
}

func (e *Engine) run(s session, sub fswatch.Subscription, stop, done chan struct{}) {
	defer close(done)

	events, watchErrs := sub.Events(), sub.Errors()
	for {
		select {
		case <-stop:
			return
		case event, ok := <-events:
			if !ok {
				e.log.WithField("source", s.source).Warn(
					"File watch ended unexpectedly. Changes will no longer be mirrored.")
				return
			}
			e.handle(s, event)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			e.log.WithError(err).Warn(
				"File watch error. Some changes may not have been mirrored.")
		}
	}
}
