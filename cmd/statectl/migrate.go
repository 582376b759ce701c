package main

import (
	"errors"
	"fmt"
	"strings"

	statesync "github.com/goliatone/go-statesync"
	"github.com/mitchellh/cli"
)

// MigrateCommand runs the migrations of a config file against stored records.
type MigrateCommand struct {
	Meta
}

func (c *MigrateCommand) Run(args []string) int {
	fs := c.flagSet("migrate")
	var configPath string
	var write bool
	fs.StringVar(&configPath, "config", "", "statesync config file")
	fs.BoolVar(&write, "write", false, "rewrite migrated records")
	if err := fs.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	if configPath == "" {
		c.Ui.Error("-config is required")
		return cli.RunResultHelp
	}

	logger := c.logger()
	defer func() { _ = logger.Sync() }()

	opts, err := statesync.LoadConfigFile(configPath, statesync.ConfigWithLogger(logger))
	if err != nil {
		return c.fail(err)
	}
	opts = append(opts, statesync.WithLogger(logger))
	if c.dbPath != "" {
		opts = append(opts, statesync.WithStorage(statesync.StorageLocal), statesync.WithLocalPath(c.dbPath, c.bucket))
	}

	ctl, err := statesync.New(opts...)
	if err != nil {
		return c.fail(err)
	}
	ctx := commandContext()
	defer func() { _ = ctl.Close(ctx) }()

	units := ctl.LoadUnits(ctx)
	failed := false
	for _, unit := range units {
		c.Ui.Output(describeUnit(unit))
		if unit.Err != nil {
			failed = true
		}
	}

	if write {
		if err := ctl.WriteUnits(ctx, units); err != nil {
			return c.fail(err)
		}
	}
	if failed {
		return 2
	}
	return 0
}

func describeUnit(unit statesync.Unit) string {
	var migrationErr *statesync.MigrationError
	switch {
	case errors.As(unit.Err, &migrationErr):
		return fmt.Sprintf("%s: migration failed: %v", unit.Key, unit.Err)
	case unit.Err != nil:
		return fmt.Sprintf("%s: unreadable: %v", unit.Key, unit.Err)
	case !unit.Found:
		return fmt.Sprintf("%s: absent", unit.Key)
	case len(unit.Migrated) == 0:
		return fmt.Sprintf("%s: up to date", unit.Key)
	}
	versions := make([]string, 0, len(unit.Migrated))
	for _, migration := range unit.Migrated {
		versions = append(versions, fmt.Sprint(migration.Version))
	}
	return fmt.Sprintf("%s: migrated from %s", unit.Key, strings.Join(versions, " -> "))
}

func (c *MigrateCommand) Help() string {
	return helpText("Usage: statectl migrate -config=file [-write] [-db=path]", `  Loads every record the config file names and runs its migrations.
  Without -write nothing is stored. -db overrides the storage of the config
  file with a local bbolt file.

  Exit status is 2 when a record could not be read or migrated.

  -config=file       YAML or JSON statesync configuration.

  -write             Rewrite migrated records.`)
}

func (c *MigrateCommand) Synopsis() string {
	return "Migrate stored records"
}
