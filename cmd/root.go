package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/bugtool"
	configCmd "github.com/sidkik/foldersync/cmd/config"
	"github.com/sidkik/foldersync/cmd/mirror"
	"github.com/sidkik/foldersync/cmd/start"
	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/cmd/verify"
	"github.com/sidkik/foldersync/cmd/version"
	"github.com/sidkik/foldersync/pkg/journal"
)

const (
	// verboseLogKey is the environment variable used to enable verbose
	// logging. When it's set to `true`, Debug events are logged, rather than
	// just Info and above.
	verboseLogKey = "FOLDERSYNC_LOG_VERBOSE"

	// journalPathKey is the environment variable used to override where
	// warnings and errors are journaled.
	journalPathKey = "FOLDERSYNC_JOURNAL_PATH"
)

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "foldersync",
		Short:        "Mirror a folder into any number of target folders",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors:    true,
		PersistentPreRun: setupJournal,
	}
	rootCmd.AddCommand(
		bugtool.New(),
		configCmd.New(),
		mirror.New(),
		start.New(),
		verify.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

func setupJournal(cmd *cobra.Command, _ []string) {
	journal.SetSource(cmd.CalledAs())

	path := journal.DefaultPath
	if envPath := os.Getenv(journalPathKey); envPath != "" {
		path = envPath
	}

	hook, err := journal.NewHook(path)
	if err != nil {
		log.WithError(err).Debug("Failed to setup journal")
		return
	}
	log.AddHook(hook)
}
