package sync

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/mirror"
)

// initialSync fills in everything in the source that's missing from the
// targets. Existing target files are left untouched. Each directory is
// created in every target before any of its files are copied.
func (e *Engine) initialSync(s session) error {
	e.log.Info("Starting initial sync of existing content")
	start := e.clock.Now()

	var dirsCreated, filesCopied []string
	err := afero.Walk(fs, s.source, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk")
		}

		relativePath, err := mirror.RelativePath(s.source, path)
		if err != nil {
			return err
		}

		if relativePath != "." && s.filter.excluded(relativePath) {
			e.log.WithField("path", relativePath).Debug("Skipping excluded path")
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.IsDir() {
			for _, target := range s.targets {
				created, err := ensureDir(filepath.Join(target, relativePath), mirror.DirPerm(fi))
				if err != nil {
					return errors.WithContext(err, fmt.Sprintf("create %q in %q", relativePath, target))
				}
				if created {
					dirsCreated = append(dirsCreated, filepath.Join(target, relativePath))
				}
			}
			return nil
		}

		copyable, err := mirror.IsCopyable(path, fi)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("check %q", relativePath))
		}

		if !copyable {
			e.log.WithField("path", path).Warn("Skipping entry that isn't a regular file")
			return nil
		}

		for _, target := range s.targets {
			targetPath := filepath.Join(target, relativePath)
			exists, err := mirror.Exists(targetPath)
			if err != nil {
				return errors.WithContext(err, "check if target exists")
			}

			if exists {
				continue
			}

			e.log.WithFields(log.Fields{
				"source": path,
				"target": targetPath,
			}).Debug("Copying file")
			if err := mirror.CopyFile(path, targetPath); err != nil {
				return errors.WithContext(err, fmt.Sprintf("copy %q to %q", relativePath, target))
			}
			filesCopied = append(filesCopied, targetPath)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.WithFields(log.Fields{
		"createdDirs": truncateSlice(dirsCreated, 5),
		"copiedFiles": truncateSlice(filesCopied, 5),
		"duration":    e.clock.Since(start),
	}).Infof("Initial sync completed. Copied %d files, created %d directories.",
		len(filesCopied), len(dirsCreated))
	return nil
}

// ensureDir creates `path` and any missing parents if it doesn't exist yet.
// It returns whether the directory had to be created.
func ensureDir(path string, perm os.FileMode) (bool, error) {
	exists, err := mirror.Exists(path)
	if err != nil {
		return false, errors.WithContext(err, "check if exists")
	}

	if exists {
		return false, nil
	}

	if err := mirror.MkdirAll(path, perm); err != nil {
		return false, errors.WithContext(err, "make directory")
	}
	return true, nil
}

// truncateSlice truncates the given slice of strings to the given length. If
// the slice is longer than `length`, a message is appended saying how many
// more items are in the slice.
func truncateSlice(slc []string, length int) (truncated []string) {
	if len(slc) <= length {
		return slc
	}
	msg := fmt.Sprintf("... %d more ...", len(slc)-length)
	return append(slc[:length:length], msg)
}
