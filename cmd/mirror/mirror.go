package mirror

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/sync"
)

// Mocked out for unit testing.
var (
	stdout           io.Writer = os.Stdout
	waitForInterrupt           = util.WaitForInterrupt
	newEngine                  = sync.New
)

// New creates a new `mirror` command.
func New() *cobra.Command {
	var except []string
	cmd := &cobra.Command{
		Use:   "mirror SOURCE TARGET...",
		Short: "Mirror a folder into one or more target folders",
		Long: "Copy everything in SOURCE that's missing from each TARGET, and then\n" +
			"mirror every change made to SOURCE until interrupted.\n\n" +
			"Files that already exist in a target are never overwritten by the\n" +
			"initial copy. Use `foldersync config create` to save a mirror so\n" +
			"that it can be started by name.",
		Args: cobra.MinimumNArgs(2),
		Run: func(_ *cobra.Command, args []string) {
			if err := Run(args[0], args[1:], except, nil); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringSliceVar(&except, "except", nil,
		"Glob pattern for paths that shouldn't be mirrored. May be repeated.")
	return cmd
}

// Run mirrors `source` into `targets` until the process is interrupted.
// `onStarted` is called once the initial sync completes. If it fails, the
// mirror is stopped and the error is returned.
func Run(source string, targets, except []string, onStarted func() error) error {
	engine := newEngine(sync.Options{
		Except: except,
		OnFailure: func(failure errors.PropagationFailure) {
			fmt.Fprintf(stdout, "Failed to mirror %s to %s: %s\n",
				failure.Path, failure.Target, errors.GetPrintableMessage(failure.Cause))
		},
	})

	fmt.Fprintf(stdout, "Copying existing files from %s...\n", source)
	if err := engine.Start(source, targets); err != nil {
		return errors.WithContext(err, "start mirror")
	}

	if onStarted != nil {
		if err := onStarted(); err != nil {
			engine.Stop()
			return err
		}
	}

	fmt.Fprintf(stdout, "Mirroring changes to %d target(s). Press Ctrl-C to stop.\n",
		len(engine.Targets()))
	sig := waitForInterrupt()
	log.WithField("signal", sig).Debug("Received signal")

	engine.Stop()
	printStats(stdout, engine.Stats())
	return nil
}

func printStats(w io.Writer, stats sync.Stats) {
	fmt.Fprintf(w, "Stopped. Handled %d changes: %d mirrored, %d ignored, %d failed.\n",
		stats.Events, stats.Propagated, stats.Filtered, stats.Failures)
}
