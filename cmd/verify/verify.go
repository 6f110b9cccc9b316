package verify

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/sync"
)

// maxListed is the number of paths printed for each kind of drift.
const maxListed = 10

// Mocked out for unit testing.
var (
	stdout        io.Writer = os.Stdout
	parseStore              = config.ParseStore
	verifyTargets           = sync.VerifyTargets
)

// New creates a new `verify` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "verify NAME",
		Short: "Check whether the targets of a sync config match its source",
		Long: "Compare the contents and permissions of every file in the source of\n" +
			"the given sync config with each of its targets. Exits with a non-zero\n" +
			"status if any target is missing a file or has a different copy.",
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := verify(args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func verify(name string) error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	cfg, err := store.Lookup(name)
	if err != nil {
		return err
	}

	drifts, err := verifyTargets(cfg.Source, cfg.Targets, cfg.Except)
	if err != nil {
		return errors.WithContext(err, "verify")
	}

	var outOfSync int
	for _, drift := range drifts {
		if drift.InSync() {
			fmt.Fprintf(stdout, "%s: in sync\n", drift.Target)
		} else {
			outOfSync++
			fmt.Fprintf(stdout, "%s: out of sync\n", drift.Target)
		}
		printPaths(stdout, "missing", drift.Missing)
		printPaths(stdout, "changed", drift.Changed)
		printPaths(stdout, "extra", drift.Extra)
	}

	if outOfSync != 0 {
		return errors.NewFriendlyError("%d of %d targets are out of sync with %s.",
			outOfSync, len(drifts), cfg.Source)
	}
	return nil
}

func printPaths(w io.Writer, kind string, paths []string) {
	for i, path := range paths {
		if i == maxListed {
			fmt.Fprintf(w, "\t... %d more %s\n", len(paths)-maxListed, kind)
			return
		}
		fmt.Fprintf(w, "\t%s: %s\n", kind, path)
	}
}
