package sync

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/fswatch"
	"github.com/sidkik/foldersync/pkg/mirror"
)

// TempSuffix is the suffix of transient files written by editors and the OS.
// Changes to these files are never mirrored.
const TempSuffix = ".tmp"

// filter decides which changes are propagated to the targets.
type filter struct {
	except []glob.Glob
}

// newFilter compiles the exclusion patterns. Patterns are matched against
// the slash-separated path relative to the source root.
func newFilter(patterns []string) (filter, error) {
	var f filter
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		g, err := glob.Compile(filepath.ToSlash(pattern), '/')
		if err != nil {
			return filter{}, errors.WithContext(err, "compile "+pattern)
		}
		f.except = append(f.except, g)
	}
	return f, nil
}

// excluded returns whether the entry at `relativePath`, or one of the
// directories containing it, matches one of the exclusion patterns.
func (f filter) excluded(relativePath string) bool {
	if len(f.except) == 0 {
		return false
	}

	parts := strings.Split(filepath.ToSlash(relativePath), "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		for _, g := range f.except {
			if g.Match(prefix) || g.Match(parts[i]) {
				return true
			}
		}
	}
	return false
}

// ignored returns whether `event` shouldn't trigger propagation.
func (f filter) ignored(event fswatch.Event, relativePath string) bool {
	// Directory modifications only mean that a child changed, and the child
	// has its own event.
	if event.Op == fswatch.Modified && event.IsDir {
		return true
	}

	// Temporary files are never created in the targets. Their deletion is
	// still propagated so that copies made by the initial sync are cleaned
	// up, and is a no-op otherwise.
	if event.Op != fswatch.Deleted && strings.HasSuffix(relativePath, TempSuffix) {
		return true
	}
	return f.excluded(relativePath)
}

// skipCopy returns whether the entry at `path` is left out when a directory
// that appeared in the source is copied into the targets. The same rules
// apply as for the changes the entry would have triggered on its own.
func (s session) skipCopy(path string, fi os.FileInfo) bool {
	relativePath, err := mirror.RelativePath(s.source, path)
	if err != nil {
		return true
	}

	if !fi.IsDir() && strings.HasSuffix(relativePath, TempSuffix) {
		return true
	}
	return s.filter.excluded(relativePath)
}
