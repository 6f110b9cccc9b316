package sync

import (
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/fswatch"
	"github.com/sidkik/foldersync/pkg/mirror"
)

// handle applies a single change to every target. A failure on one target
// doesn't prevent the change from being applied to the others.
func (e *Engine) handle(s session, event fswatch.Event) {
	e.updateStats(func(stats *Stats) { stats.Events++ })

	relativePath, err := mirror.RelativePath(s.source, event.Path)
	if err != nil {
		e.log.WithError(err).WithField("path", event.Path).Warn(
			"Ignoring change outside of the source folder")
		e.updateStats(func(stats *Stats) { stats.Filtered++ })
		return
	}

	logger := e.log.WithFields(log.Fields{
		"path": relativePath,
		"op":   event.Op.String(),
	})

	// Changes to the root itself are either modifications, which don't
	// need to be mirrored, or the removal of the whole source, which
	// shouldn't wipe out the targets.
	if relativePath == "." {
		logger.Debug("Ignoring change to the source folder itself")
		e.updateStats(func(stats *Stats) { stats.Filtered++ })
		return
	}

	if s.filter.ignored(event, relativePath) {
		logger.Debug("Ignoring change")
		e.updateStats(func(stats *Stats) { stats.Filtered++ })
		return
	}

	apply := func(target string) error {
		return mirror.CreateOrModify(s.source, event.Path, target, s.skipCopy)
	}
	if event.Op == fswatch.Deleted {
		apply = func(target string) error {
			return mirror.Delete(s.source, event.Path, target)
		}
	}

	logger.Info("Change detected")
	start := e.clock.Now()
	var failures int
	for _, target := range s.targets {
		if err := apply(target); err != nil {
			failures++
			e.reportFailure(errors.PropagationFailure{
				Target: target,
				Path:   relativePath,
				Cause:  err,
			})
			continue
		}
		e.updateStats(func(stats *Stats) { stats.Propagated++ })
	}

	logger.WithFields(log.Fields{
		"duration": e.clock.Since(start),
		"targets":  len(s.targets),
		"failures": failures,
	}).Info("Mirrored change")
}

func (e *Engine) reportFailure(failure errors.PropagationFailure) {
	e.updateStats(func(stats *Stats) { stats.Failures++ })
	e.log.WithError(failure.Cause).WithFields(log.Fields{
		"target": failure.Target,
		"path":   failure.Path,
	}).Error("Failed to mirror change to target")

	if e.onFailure != nil {
		e.onFailure(failure)
	}
}
