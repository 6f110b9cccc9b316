package fswatch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDirectories(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	dirs := []string{"/src/a", "/src/a/b", "/src/c", "/other"}
	files := []string{"/src/root.txt", "/src/a/b/file.txt", "/other/file.txt"}
	for _, dir := range dirs {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	for _, file := range files {
		require.NoError(t, afero.WriteFile(fs, file, []byte("testfile"), 0644))
	}

	paths, err := getDirectories("/src")
	assert.NoError(t, err)

	exp := []string{"/src", "/src/a", "/src/a/b", "/src/c"}
	sort.Strings(paths)
	assert.Equal(t, exp, paths)

	_, err = getDirectories("/missing")
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	require.NoError(t, fs.MkdirAll("/src/newdir/nested", 0755))
	require.NoError(t, afero.WriteFile(fs, "/src/file", []byte("x"), 0644))

	tests := []struct {
		name       string
		event      fsnotify.Event
		exp        Event
		expOk      bool
		expWatched []string
	}{
		{
			name:  "CreateFile",
			event: fsnotify.Event{Name: "/src/file", Op: fsnotify.Create},
			exp:   Event{Op: Created, Path: "/src/file"},
			expOk: true,
		},
		{
			name:       "CreateDirectory",
			event:      fsnotify.Event{Name: "/src/newdir", Op: fsnotify.Create},
			exp:        Event{Op: Created, Path: "/src/newdir", IsDir: true},
			expOk:      true,
			expWatched: []string{"/src/newdir", "/src/newdir/nested"},
		},
		{
			name:  "Write",
			event: fsnotify.Event{Name: "/src/file", Op: fsnotify.Write},
			exp:   Event{Op: Modified, Path: "/src/file"},
			expOk: true,
		},
		{
			name:  "Chmod",
			event: fsnotify.Event{Name: "/src/file", Op: fsnotify.Chmod},
			exp:   Event{Op: Modified, Path: "/src/file"},
			expOk: true,
		},
		{
			name:  "ModifyDirectory",
			event: fsnotify.Event{Name: "/src/newdir", Op: fsnotify.Write},
			exp:   Event{Op: Modified, Path: "/src/newdir", IsDir: true},
			expOk: true,
		},
		{
			name:  "Remove",
			event: fsnotify.Event{Name: "/src/gone", Op: fsnotify.Remove},
			exp:   Event{Op: Deleted, Path: "/src/gone"},
			expOk: true,
		},
		{
			name:  "Rename",
			event: fsnotify.Event{Name: "/src/old-name", Op: fsnotify.Rename},
			exp:   Event{Op: Deleted, Path: "/src/old-name"},
			expOk: true,
		},
		{
			name:  "CreateAlreadyRemoved",
			event: fsnotify.Event{Name: "/src/gone", Op: fsnotify.Create},
			expOk: false,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var watched []string
			addWatch := func(path string) error {
				watched = append(watched, path)
				return nil
			}
			sub := newSubscription(nil, nil, addWatch, func() error { return nil })

			event, ok := sub.translate(test.event)
			assert.Equal(t, test.expOk, ok)
			if test.expOk {
				assert.Equal(t, test.exp, event)
			}
			sort.Strings(watched)
			assert.Equal(t, test.expWatched, watched)
		})
	}
}

func TestSubscriptionPreservesOrder(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()
	require.NoError(t, afero.WriteFile(fs, "/src/file", []byte("x"), 0644))

	in := make(chan fsnotify.Event, 8)
	inErrs := make(chan error, 1)
	sub := newSubscription(in, inErrs, func(string) error { return nil },
		func() error { return nil })
	go sub.run()

	in <- fsnotify.Event{Name: "/src/file", Op: fsnotify.Create}
	in <- fsnotify.Event{Name: "/src/file", Op: fsnotify.Write}
	in <- fsnotify.Event{Name: "/src/file", Op: fsnotify.Write}
	in <- fsnotify.Event{Name: "/src/file", Op: fsnotify.Remove}

	// Repeated events on the same path aren't combined.
	var ops []Op
	for i := 0; i < 4; i++ {
		ops = append(ops, (<-sub.Events()).Op)
	}
	assert.Equal(t, []Op{Created, Modified, Modified, Deleted}, ops)

	inErrs <- fsnotify.ErrEventOverflow
	assert.Equal(t, fsnotify.ErrEventOverflow, <-sub.Errors())

	assert.NoError(t, sub.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Closing twice is safe.
	assert.NoError(t, sub.Close())
}

func TestWatchIntegration(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "existing"), 0755))

	sub, err := NewWatcher().Watch(root)
	require.NoError(t, err)
	defer sub.Close()

	waitFor := func(exp Event) {
		timeout := time.After(5 * time.Second)
		for {
			select {
			case event := <-sub.Events():
				if event == exp {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %+v", exp)
			}
		}
	}

	// Files in directories that existed when the watch started are watched.
	path := filepath.Join(root, "existing", "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	waitFor(Event{Op: Created, Path: path})

	// Directories created after the watch started are watched too.
	newDir := filepath.Join(root, "new")
	require.NoError(t, os.Mkdir(newDir, 0755))
	waitFor(Event{Op: Created, Path: newDir, IsDir: true})

	path = filepath.Join(newDir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	waitFor(Event{Op: Created, Path: path})

	require.NoError(t, os.Remove(path))
	waitFor(Event{Op: Deleted, Path: path})
}

func TestWatchMissingRoot(t *testing.T) {
	_, err := NewWatcher().Watch(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
