package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/mirror"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// FileAttributes contains some metadata used to compare whether two files are
// equal.
type FileAttributes struct {
	// ContentsHash is the sha512 hash of the contents of the file.
	ContentsHash string

	// Mode is the file mode of the file.
	Mode os.FileMode

	// ModTime is the time of the last file modification.
	ModTime time.Time
}

// Equal returns whether two files hold the same contents with the same
// permissions. The modification time isn't compared because the initial sync
// doesn't overwrite files that already exist in a target.
func (f FileAttributes) Equal(otherFile FileAttributes) bool {
	return f.ContentsHash == otherFile.ContentsHash &&
		f.Mode == otherFile.Mode
}

// Snapshot maps the path of each file in a tree, relative to the root of the
// tree, to its attributes.
type Snapshot map[string]FileAttributes

// Drift describes how a target differs from the source.
type Drift struct {
	Target string

	// Missing contains the source files that don't exist in the target.
	Missing []string

	// Changed contains the files whose contents or mode differ.
	Changed []string

	// Extra contains the target files that don't exist in the source.
	Extra []string
}

// InSync returns whether the target holds a copy of every source file.
// Extra files don't count, since they may have been put there by something
// other than the mirror.
func (d Drift) InSync() bool {
	return len(d.Missing) == 0 && len(d.Changed) == 0
}

// Diff returns how `target` differs from `source`.
func (source Snapshot) Diff(target Snapshot) (missing, changed, extra []string) {
	for path, exp := range source {
		actual, ok := target[path]
		switch {
		case !ok:
			missing = append(missing, path)
		case !actual.Equal(exp):
			changed = append(changed, path)
		}
	}

	for path := range target {
		if _, ok := source[path]; !ok {
			extra = append(extra, path)
		}
	}

	sort.Strings(missing)
	sort.Strings(changed)
	sort.Strings(extra)
	return
}

// TakeSnapshot returns information on all the files in the tree at `root`.
// Paths matching `except` are skipped.
func TakeSnapshot(root string, except []string) (Snapshot, error) {
	f, err := newFilter(except)
	if err != nil {
		return nil, errors.WithContext(err, "parse exclusions")
	}

	files := Snapshot{}
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relativePath, err := mirror.RelativePath(root, path)
		if err != nil {
			return errors.WithContext(err, "normalized path")
		}

		if relativePath != "." && f.excluded(relativePath) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Temporary files are only ever mirrored by the initial sync.
		if fi.IsDir() || strings.HasSuffix(path, TempSuffix) {
			return nil
		}

		fi, copyable, err := mirror.Resolve(path, fi)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("resolve %q", relativePath))
		}

		if !copyable {
			return nil
		}

		contentsHash, err := HashFile(path)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("hash %q", relativePath))
		}

		files[relativePath] = FileAttributes{
			ContentsHash: contentsHash,
			Mode:         fi.Mode().Perm(),
			ModTime:      fi.ModTime(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// VerifyTargets compares each target against the source. The targets are
// snapshotted concurrently.
func VerifyTargets(source string, targets, except []string) ([]Drift, error) {
	sourceSnapshot, err := TakeSnapshot(source, except)
	if err != nil {
		return nil, errors.WithContext(err, "snapshot source")
	}

	drifts := make([]Drift, len(targets))
	var group errgroup.Group
	for i, target := range targets {
		i, target := i, target
		group.Go(func() error {
			targetSnapshot, err := TakeSnapshot(target, except)
			if err != nil {
				return errors.WithContext(err, fmt.Sprintf("snapshot %q", target))
			}

			missing, changed, extra := sourceSnapshot.Diff(targetSnapshot)
			drifts[i] = Drift{
				Target:  target,
				Missing: missing,
				Changed: changed,
				Extra:   extra,
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return drifts, nil
}

// HashFile returns the sha512 hash of the file at the given path.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}
