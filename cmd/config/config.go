package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
)

// Mocked out for unit testing.
var (
	stdout     io.Writer = os.Stdout
	parseStore           = config.ParseStore
	writeStore           = config.WriteStore
	now                  = time.Now
)

// New creates a new `config` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage saved sync configs",
	}
	cmd.AddCommand(newCreateCommand(), newListCommand(), newDeleteCommand())
	return cmd
}

func newCreateCommand() *cobra.Command {
	var cfg config.SyncConfig
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Save a sync config so that it can be started by name",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := create(cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cfg.Name, "name", "", "The name of the sync config.")
	cmd.Flags().StringVar(&cfg.Source, "source", "", "The folder to mirror.")
	cmd.Flags().StringSliceVar(&cfg.Targets, "target", nil,
		"A folder to mirror into. May be repeated.")
	cmd.Flags().StringSliceVar(&cfg.Except, "except", nil,
		"Glob pattern for paths that shouldn't be mirrored. May be repeated.")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the saved sync configs",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := list(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved sync config. The folders are left untouched.",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := deleteConfig(args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func create(cfg config.SyncConfig) error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	if err := store.Create(cfg, now()); err != nil {
		return err
	}

	if err := writeStore(store); err != nil {
		return errors.WithContext(err, "write store")
	}

	fmt.Fprintf(stdout, "Created sync config %q. Run `foldersync start %s` to start mirroring.\n",
		cfg.Name, cfg.Name)
	return nil
}

func list() error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	if len(store.Configs) == 0 {
		fmt.Fprintln(stdout, "No sync configs. Create one with `foldersync config create`.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tTARGETS\tACTIVE\tUPDATED")
	for _, cfg := range store.Configs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", cfg.Name, cfg.Source,
			strings.Join(cfg.Targets, ","), cfg.Active,
			cfg.UpdatedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func deleteConfig(name string) error {
	store, err := parseStore()
	if err != nil {
		return errors.WithContext(err, "parse store")
	}

	if cfg, ok := store.Get(name); ok && cfg.Active {
		log.WithField("name", name).Warn("Deleting a sync config that's marked as active. " +
			"Any running mirror will continue until it's interrupted.")
	}

	if err := store.Delete(name); err != nil {
		return err
	}

	if err := writeStore(store); err != nil {
		return errors.WithContext(err, "write store")
	}

	fmt.Fprintf(stdout, "Deleted sync config %q.\n", name)
	return nil
}
