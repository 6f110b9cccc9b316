package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFile struct {
	path     string
	contents string
	mode     os.FileMode
	modTime  time.Time
}

func (f mockFile) write(t *testing.T) {
	require.NoError(t, fs.MkdirAll(filepath.Dir(f.path), 0755))
	require.NoError(t, afero.WriteFile(fs, f.path, []byte(f.contents), f.mode))
	require.NoError(t, fs.Chmod(f.path, f.mode))
	require.NoError(t, fs.Chtimes(f.path, f.modTime, f.modTime))
}

func assertMirrored(t *testing.T, exp mockFile, path string) {
	contents, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, exp.contents, string(contents))

	fi, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, exp.mode, fi.Mode().Perm())
	assert.True(t, exp.modTime.Equal(fi.ModTime()),
		"expected modtime %s, got %s", exp.modTime, fi.ModTime())
}

func assertNotExists(t *testing.T, path string) {
	exists, err := afero.Exists(fs, path)
	assert.NoError(t, err)
	assert.False(t, exists, "%s should not exist", path)
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name   string
		root   string
		path   string
		exp    string
		expErr bool
	}{
		{name: "Root", root: "/src", path: "/src", exp: "."},
		{name: "Child", root: "/src", path: "/src/a/b.txt", exp: "a/b.txt"},
		{name: "DotDotPrefixedName", root: "/src", path: "/src/..hidden", exp: "..hidden"},
		{name: "Sibling", root: "/src", path: "/src-other/file", expErr: true},
		{name: "Parent", root: "/src/a", path: "/src", expErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			rel, err := RelativePath(test.root, test.path)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(test.exp), rel)
		})
	}
}

func TestCreateOrModifyFile(t *testing.T) {
	defer SetFs(afero.NewOsFs())()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0755))

	modTime := time.Unix(1569172899, 0)
	f := mockFile{
		path:     filepath.Join(src, "a", "b.txt"),
		contents: "hello",
		mode:     0640,
		modTime:  modTime,
	}
	f.write(t)

	// The parent directory chain is created as needed.
	require.NoError(t, CreateOrModify(src, f.path, target, nil))
	assertMirrored(t, f, filepath.Join(target, "a", "b.txt"))

	// Modifications overwrite the target.
	f.contents = "goodbye"
	f.mode = 0600
	f.modTime = modTime.Add(time.Hour)
	f.write(t)
	require.NoError(t, CreateOrModify(src, f.path, target, nil))
	assertMirrored(t, f, filepath.Join(target, "a", "b.txt"))
}

func TestCreateOrModifyDirectory(t *testing.T) {
	defer SetFs(afero.NewOsFs())()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0755))

	modTime := time.Unix(1569172899, 0)
	files := []mockFile{
		{path: filepath.Join(src, "new", "one"), contents: "1", mode: 0644, modTime: modTime},
		{path: filepath.Join(src, "new", "nested", "two"), contents: "2", mode: 0755, modTime: modTime},
	}
	for _, f := range files {
		f.write(t)
	}
	require.NoError(t, os.Mkdir(filepath.Join(src, "new", "empty"), 0755))

	require.NoError(t, CreateOrModify(src, filepath.Join(src, "new"), target, nil))
	assertMirrored(t, files[0], filepath.Join(target, "new", "one"))
	assertMirrored(t, files[1], filepath.Join(target, "new", "nested", "two"))
	exists, err := afero.DirExists(fs, filepath.Join(target, "new", "empty"))
	require.NoError(t, err)
	assert.True(t, exists)

	// An existing target directory isn't overwritten.
	require.NoError(t, afero.WriteFile(fs, files[0].path, []byte("changed"), 0644))
	require.NoError(t, CreateOrModify(src, filepath.Join(src, "new"), target, nil))
	assertMirrored(t, files[0], filepath.Join(target, "new", "one"))
}

func TestCreateOrModifyErrors(t *testing.T) {
	defer SetFs(afero.NewOsFs())()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	f := mockFile{path: filepath.Join(src, "file"), contents: "x", mode: 0644, modTime: time.Now()}
	f.write(t)

	// The target root is a regular file, so nothing can be created under it.
	badTarget := filepath.Join(dir, "bad-target")
	require.NoError(t, afero.WriteFile(fs, badTarget, []byte("not a dir"), 0644))
	assert.Error(t, CreateOrModify(src, f.path, badTarget, nil))

	// The source was removed before the change could be mirrored.
	goodTarget := filepath.Join(dir, "good-target")
	require.NoError(t, os.Mkdir(goodTarget, 0755))
	assert.Error(t, CreateOrModify(src, filepath.Join(src, "missing"), goodTarget, nil))

	// The source isn't within the source root.
	assert.Error(t, CreateOrModify(src, filepath.Join(dir, "elsewhere"), goodTarget, nil))
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name        string
		targetFiles []string
		toDelete    string
		expRemoved  []string
		expRemain   []string
	}{
		{
			name:        "File",
			targetFiles: []string{"/target/a/b.txt", "/target/a/c.txt"},
			toDelete:    "/src/a/b.txt",
			expRemoved:  []string{"/target/a/b.txt"},
			expRemain:   []string{"/target/a/c.txt"},
		},
		{
			// The delete notification doesn't say whether the path was a
			// directory, so the target's type decides how it's removed.
			name:        "DirectoryProbedFromTarget",
			targetFiles: []string{"/target/a/b.txt", "/target/a/nested/c.txt", "/target/d.txt"},
			toDelete:    "/src/a",
			expRemoved:  []string{"/target/a", "/target/a/b.txt", "/target/a/nested/c.txt"},
			expRemain:   []string{"/target/d.txt"},
		},
		{
			name:        "Missing",
			targetFiles: []string{"/target/d.txt"},
			toDelete:    "/src/a/b.txt",
			expRemain:   []string{"/target/d.txt"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			defer SetFs(afero.NewMemMapFs())()
			for _, path := range test.targetFiles {
				require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
				require.NoError(t, afero.WriteFile(fs, path, []byte(path), 0644))
			}

			assert.NoError(t, Delete("/src", test.toDelete, "/target"))
			for _, path := range test.expRemoved {
				assertNotExists(t, path)
			}
			for _, path := range test.expRemain {
				exists, err := afero.Exists(fs, path)
				assert.NoError(t, err)
				assert.True(t, exists, "%s should exist", path)
			}

			// Deletes are idempotent.
			assert.NoError(t, Delete("/src", test.toDelete, "/target"))
			for _, path := range test.expRemain {
				exists, err := afero.Exists(fs, path)
				assert.NoError(t, err)
				assert.True(t, exists, "%s should exist", path)
			}
		})
	}
}

func TestDeleteSymlinkToDirectory(t *testing.T) {
	defer SetFs(afero.NewOsFs())()
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	linked := filepath.Join(dir, "linked")
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, os.MkdirAll(linked, 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(linked, "keep"), []byte("x"), 0644))
	require.NoError(t, os.Symlink(linked, filepath.Join(target, "link")))

	require.NoError(t, Delete(filepath.Join(dir, "src"), filepath.Join(dir, "src", "link"), target))

	_, err := os.Lstat(filepath.Join(target, "link"))
	assert.True(t, os.IsNotExist(err))
	exists, err := afero.Exists(fs, filepath.Join(linked, "keep"))
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestCopyTreeSkip(t *testing.T) {
	defer SetFs(afero.NewOsFs())()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	modTime := time.Unix(1569172899, 0)
	keep := mockFile{path: filepath.Join(src, "keep.txt"), contents: "keep", mode: 0644, modTime: modTime}
	keep.write(t)
	for _, path := range []string{"editor.tmp", "cache/blob", "nested/cache/blob"} {
		f := mockFile{path: filepath.Join(src, path), contents: "skip", mode: 0644, modTime: modTime}
		f.write(t)
	}

	var visited []string
	skip := func(path string, fi os.FileInfo) bool {
		visited = append(visited, path)
		return fi.Name() == "cache" || filepath.Ext(path) == ".tmp"
	}
	require.NoError(t, CopyTree(src, dst, skip))

	assertMirrored(t, keep, filepath.Join(dst, "keep.txt"))
	assertNotExists(t, filepath.Join(dst, "editor.tmp"))
	assertNotExists(t, filepath.Join(dst, "cache"))
	assertNotExists(t, filepath.Join(dst, "nested", "cache"))

	// Skipped directories aren't descended into, and the root is never
	// checked.
	assert.NotContains(t, visited, src)
	assert.NotContains(t, visited, filepath.Join(src, "cache", "blob"))
}

func TestSymlinks(t *testing.T) {
	defer SetFs(afero.NewOsFs())()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0755))

	modTime := time.Unix(1569172899, 0)
	linked := mockFile{path: filepath.Join(src, "real", "f.txt"), contents: "f", mode: 0640, modTime: modTime}
	linked.write(t)
	require.NoError(t, os.Symlink(filepath.Join(src, "real"), filepath.Join(src, "dir-link")))
	require.NoError(t, os.Symlink(linked.path, filepath.Join(src, "file-link")))
	require.NoError(t, os.Symlink(filepath.Join(src, "missing"), filepath.Join(src, "dangling")))

	tests := []struct {
		name        string
		path        string
		expCopyable bool
	}{
		{name: "RegularFile", path: linked.path, expCopyable: true},
		{name: "SymlinkToFile", path: filepath.Join(src, "file-link"), expCopyable: true},
		{name: "SymlinkToDirectory", path: filepath.Join(src, "dir-link")},
		{name: "DanglingSymlink", path: filepath.Join(src, "dangling")},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fi, err := os.Lstat(test.path)
			require.NoError(t, err)

			copyable, err := IsCopyable(test.path, fi)
			require.NoError(t, err)
			assert.Equal(t, test.expCopyable, copyable)

			require.NoError(t, CreateOrModify(src, test.path, target, nil))
			targetPath, err := TargetPath(src, test.path, target)
			require.NoError(t, err)
			if test.expCopyable {
				assertMirrored(t, mockFile{contents: "f", mode: 0640, modTime: modTime}, targetPath)
			} else {
				assertNotExists(t, targetPath)
			}
		})
	}

	// Copying the whole tree copies the file behind the file link, and leaves
	// out the other links.
	dst := filepath.Join(dir, "dst")
	require.NoError(t, CopyTree(src, dst, nil))
	assertMirrored(t, linked, filepath.Join(dst, "real", "f.txt"))
	assertMirrored(t, mockFile{contents: "f", mode: 0640, modTime: modTime}, filepath.Join(dst, "file-link"))
	assertNotExists(t, filepath.Join(dst, "dir-link"))
	assertNotExists(t, filepath.Join(dst, "dangling"))
}
