package start

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/mirror"
	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
)

// Mocked out for unit testing.
var (
	parseStore = config.ParseStore
	writeStore = config.WriteStore
	runMirror  = mirror.Run
	now        = time.Now
)

// New creates a new `start` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "start NAME",
		Short: "Start mirroring a saved sync config",
		Long: "Start mirroring the sync config with the given name. The config is\n" +
			"marked as active until the mirror is interrupted.",
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := start(args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func start(name string) error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	cfg, err := store.Lookup(name)
	if err != nil {
		return err
	}

	if cfg.Active {
		log.WithField("name", name).Warn("Sync config is already marked as active. " +
			"If another foldersync process is mirroring it, stop it first.")
	}

	var activated bool
	err = runMirror(cfg.Source, cfg.Targets, cfg.Except, func() error {
		if err := setActive(name, true); err != nil {
			return errors.WithContext(err, "mark active")
		}
		activated = true
		return nil
	})

	if activated {
		if err := setActive(name, false); err != nil {
			log.WithError(err).WithField("name", name).Warn(
				"Failed to mark sync config as inactive")
		}
	}
	return err
}

// setActive re-reads the store before updating it so that changes made by
// other commands while the mirror was running aren't lost.
func setActive(name string, active bool) error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	if err := store.SetActive(name, active, now()); err != nil {
		return err
	}
	return writeStore(store)
}
