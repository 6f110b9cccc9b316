// Package mirror applies a single filesystem change from a source tree to a
// single target tree. It keeps no state between calls.
package mirror

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// SetFs replaces the filesystem used by the package. It returns a function
// that restores the previous filesystem.
func SetFs(newFs afero.Fs) (restore func()) {
	old := fs
	fs = newFs
	return func() { fs = old }
}

// RelativePath returns `path` relative to `root`. It errors if `path` isn't
// contained within `root`.
func RelativePath(root, path string) (string, error) {
	relativePath, err := filepath.Rel(root, path)
	if err != nil {
		return "", errors.WithContext(err, "relative path")
	}

	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is not within %q", path, root)
	}
	return relativePath, nil
}

// TargetPath returns the path in `targetRoot` that mirrors `sourcePath`.
func TargetPath(sourceRoot, sourcePath, targetRoot string) (string, error) {
	relativePath, err := RelativePath(sourceRoot, sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(targetRoot, relativePath), nil
}

// SkipFunc reports whether the source entry at `path` is left out when a
// directory is copied. Skipped directories aren't descended into.
type SkipFunc func(path string, fi os.FileInfo) bool

// CreateOrModify mirrors the creation or modification of `sourcePath` into
// `targetRoot`.
// Directories are copied recursively, but only if they don't exist in the
// target yet. Entries within them that `skip` matches aren't copied. Files are
// always copied, overwriting the target.
func CreateOrModify(sourceRoot, sourcePath, targetRoot string, skip SkipFunc) error {
	targetPath, err := TargetPath(sourceRoot, sourcePath, targetRoot)
	if err != nil {
		return err
	}

	fi, err := lstat(sourcePath)
	if err != nil {
		return errors.WithContext(err, "stat source")
	}

	if fi.IsDir() {
		exists, err := Exists(targetPath)
		if err != nil {
			return errors.WithContext(err, "check if target exists")
		}

		if exists {
			return nil
		}
		return CopyTree(sourcePath, targetPath, skip)
	}

	copyable, err := IsCopyable(sourcePath, fi)
	if err != nil {
		return err
	}

	if !copyable {
		log.WithField("path", sourcePath).Warn("Skipping entry that isn't a regular file")
		return nil
	}

	if err := fs.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}
	return CopyFile(sourcePath, targetPath)
}

// Delete mirrors the removal of `sourcePath` into `targetRoot`.
// The removal notification doesn't say whether the path was a directory, so
// the type of the target is used instead. Deleting a path that doesn't exist
// in the target is a no-op.
func Delete(sourceRoot, sourcePath, targetRoot string) error {
	targetPath, err := TargetPath(sourceRoot, sourcePath, targetRoot)
	if err != nil {
		return err
	}

	fi, err := lstat(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithContext(err, "stat target")
	}

	if fi.IsDir() {
		if err := fs.RemoveAll(targetPath); err != nil {
			return errors.WithContext(err, "remove directory")
		}
		return nil
	}

	// The file may have been removed between the stat and now.
	if err := fs.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove")
	}
	return nil
}

// CopyFile copies the contents, permission bits, and modification time of
// `src` to `dst`. `dst` is overwritten if it exists, and its parent must
// already exist.
func CopyFile(src, dst string) error {
	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	dstFile, err := fs.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fileInfo.Mode().Perm())
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return errors.WithContext(err, "copy")
	}

	if err := dstFile.Close(); err != nil {
		return errors.WithContext(err, "close destination")
	}

	// OpenFile only applies the mode when creating the file.
	if err := fs.Chmod(dst, fileInfo.Mode().Perm()); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(dst, time.Now(), fileInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

// CopyTree recursively copies the directory `src` to `dst`. Each directory is
// created before the files within it are copied. Entries below `src` that
// `skip` matches aren't copied. `skip` may be nil.
func CopyTree(src, dst string, skip SkipFunc) error {
	return afero.Walk(fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk")
		}

		relativePath, err := RelativePath(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relativePath)

		if relativePath != "." && skip != nil && skip(path, fi) {
			log.WithField("path", path).Debug("Skipping path")
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.IsDir() {
			if err := fs.MkdirAll(dstPath, DirPerm(fi)); err != nil {
				return errors.WithContext(err, "make directory")
			}
			return nil
		}

		copyable, err := IsCopyable(path, fi)
		if err != nil {
			return err
		}

		if !copyable {
			log.WithField("path", path).Warn("Skipping entry that isn't a regular file")
			return nil
		}

		if err := CopyFile(path, dstPath); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %q", relativePath))
		}
		return nil
	})
}

// Resolve returns the info of the regular file holding the contents of the
// entry at `path`, which `fi` describes without following symlinks. The
// boolean is false if the entry neither is nor links to a regular file.
// Symlinks to directories and dangling symlinks therefore can't be mirrored.
func Resolve(path string, fi os.FileInfo) (os.FileInfo, bool, error) {
	mode := fi.Mode()
	if mode.IsRegular() {
		return fi, true, nil
	}

	if mode&os.ModeSymlink == 0 {
		return nil, false, nil
	}

	resolved, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.WithContext(err, "stat symlink target")
	}

	if !resolved.Mode().IsRegular() {
		return nil, false, nil
	}
	return resolved, true, nil
}

// IsCopyable returns whether the entry at `path` holds content that can be
// mirrored. Regular files are copyable, and so are symlinks to regular files.
// The contents of a symlink's target are copied.
func IsCopyable(path string, fi os.FileInfo) (bool, error) {
	_, copyable, err := Resolve(path, fi)
	return copyable, err
}

// Exists returns whether `path` exists.
func Exists(path string) (bool, error) {
	return afero.Exists(fs, path)
}

// lstat stats `path` without following symlinks when the filesystem supports
// it, so that a symlink to a directory is removed rather than the directory
// it points to.
func lstat(path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		fi, _, err := lstater.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}

// MkdirAll creates `path` along with any missing parents.
func MkdirAll(path string, perm os.FileMode) error {
	return fs.MkdirAll(path, perm)
}

// DirPerm returns the permissions to create a mirrored copy of the directory
// described by `fi` with. The owner can always write to the copy so that its
// contents can be mirrored.
func DirPerm(fi os.FileInfo) os.FileMode {
	return fi.Mode().Perm() | 0700
}
