package bugtool

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	"github.com/klauspost/pgzip"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/journal"
	"github.com/sidkik/foldersync/pkg/sync"
	"github.com/sidkik/foldersync/pkg/version"
)

// Mocked out for unit testing.
var (
	fs                       = afero.NewOsFs()
	stdout         io.Writer = os.Stdout
	parseStore               = config.ParseStore
	getStorePath             = config.GetStorePath
	getJournalPath           = func() (string, error) { return homedir.Expand(journal.DefaultPath) }
	verifyTargets            = sync.VerifyTargets
)

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for debugging foldersync",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(out); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func run(out string) error {
	tmpdir, err := afero.TempDir(fs, "", "foldersync-bug-tool")
	if err != nil {
		return errors.NewFriendlyError("Failed to create out directory:\n%s", err)
	}
	defer func() {
		if err := fs.RemoveAll(tmpdir); err != nil {
			log.WithError(err).WithField("path", tmpdir).Warn("Failed to remove temporary directory")
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("foldersync-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		return errors.NewFriendlyError("Failed to tar:\n%s", err)
	}

	msg := `Created bug information archive at '%s'.
You may want to edit the archive if your folder names contain sensitive information.
The archive contains:
 * The saved sync configs.
 * The journal of warnings and errors logged by foldersync.
 * A comparison of each sync config's source with its targets.
 * The version of foldersync.
`
	fmt.Fprintf(stdout, msg, out)
	return nil
}

// setupInfo collects everything that goes in the archive into `root`. Each
// piece is best effort.
func setupInfo(root string) {
	if err := setupVersion(root); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	storePath, err := getStorePath()
	if err == nil {
		err = copyFile(storePath, filepath.Join(root, "store.yaml"))
	}
	if err != nil {
		log.WithError(err).Warn("Failed to setup sync configs")
	}

	journalPath, err := getJournalPath()
	if err == nil {
		err = copyFile(journalPath, filepath.Join(root, "journal.log"))
	}
	if err != nil {
		log.WithError(err).Warn("Failed to setup journal")
	}

	if err := setupVerifyReports(filepath.Join(root, "verify")); err != nil {
		log.WithError(err).Warn("Failed to setup verify reports")
	}
}

func setupVersion(root string) error {
	contents := fmt.Sprintf("foldersync version: %s\n", version.Version)
	if err := afero.WriteFile(fs, filepath.Join(root, "version"), []byte(contents), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

// setupVerifyReports writes the drift of each sync config's targets to a
// YAML file named after the config.
func setupVerifyReports(outdir string) error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	if err := fs.Mkdir(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	for _, cfg := range store.Configs {
		var report interface{}
		drifts, err := verifyTargets(cfg.Source, cfg.Targets, cfg.Except)
		if err != nil {
			report = map[string]string{"error": err.Error()}
		} else {
			report = drifts
		}

		reportBytes, err := yaml.Marshal(report)
		if err != nil {
			log.WithError(err).WithField("name", cfg.Name).Warn("Failed to marshal verify report")
			reportBytes = []byte(fmt.Sprintf("%+v\n", report))
		}

		path := filepath.Join(outdir, cfg.Name+".yaml")
		if err := afero.WriteFile(fs, path, reportBytes, 0644); err != nil {
			return errors.WithContext(err, "write")
		}
	}
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := pgzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.ToSlash(filepath.Join("foldersync-bug-info", relPath))
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
