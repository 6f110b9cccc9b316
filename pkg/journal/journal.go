package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	goSync "sync"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/version"
)

// DefaultPath is where the journal is written unless another path is given.
const DefaultPath = "~/.foldersync/journal.log"

var (
	// The command that's running. It's automatically added to journal
	// entries.
	source string

	// Mocked out for unit testing.
	fs = afero.NewOsFs()
)

// formatter renames the standard fields so that the journal can be ingested
// by log collectors without any extra configuration.
var formatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "message",
	},
}

// SetSource sets the source that is automatically added to journal entries.
func SetSource(s string) {
	source = s
}

// NewHook creates a hook that appends warnings and errors to the journal at
// `path`, one JSON object per line. The journal's parent directory is
// created if necessary.
func NewHook(path string) (logrus.Hook, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.WithContext(err, "expand path")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "create journal directory")
	}

	return &hook{
		levels: []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
		},
		path: path,
	}, nil
}

type hook struct {
	levels []logrus.Level
	path   string

	// Serializes writes so that concurrent entries aren't interleaved.
	lock goSync.Mutex
}

func (h *hook) Levels() []logrus.Level {
	return h.levels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	tags := []string{fmt.Sprintf("foldersync-version:%s", version.Version)}
	if source != "" {
		tags = append(tags, fmt.Sprintf("source:%s", source))
	}

	dataCopy := map[string]interface{}{
		"tags": strings.Join(tags, ","),
	}
	for k, v := range entry.Data {
		dataCopy[k] = v
	}

	// Copy the entry so that the tags aren't added to the entry seen by the
	// other hooks and the formatter.
	entryCopy := *entry
	entryCopy.Data = dataCopy

	// Log collectors don't have a concept of "panic" level, so we treat
	// panics as fatal errors.
	if entry.Level == logrus.PanicLevel {
		entryCopy.Level = logrus.FatalLevel
	}

	// Failures are dropped. Hooks run with the logger's lock held, so they
	// can't be logged, and returning them causes logrus to print them
	// directly to stderr.
	jsonBytes, err := formatter.Format(&entryCopy)
	if err != nil {
		return nil
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	f, err := fs.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	defer f.Close()

	_, _ = f.Write(jsonBytes)
	return nil
}
