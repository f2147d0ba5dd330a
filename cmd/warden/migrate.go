// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardenauth/warden/internal/config"
	"github.com/wardenauth/warden/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(&CommandDeps{})
}

func newMigrateCmd(deps *CommandDeps) *cobra.Command {
	deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the schema migrations embedded in the
warden binary. The database URL is read from DATABASE_URL.`,
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the given number of migrations, or all of them with --all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return withMigrator(cmd, deps, func(m Migrator) error {
				if all {
					cmd.Println("Rolling back all migrations...")
					return m.Down()
				}
				cmd.Printf("Rolling back %d migration(s)...\n", steps)
				return m.Steps(-steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					cmd.Println("Running migrations...")
					if err := m.Up(); err != nil {
						return err
					}
					cmd.Println("Migrations completed successfully")
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m Migrator) error {
					st, err := m.Status()
					if err != nil {
						return err
					}
					cmd.Print(formatMigrationStatus(st))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Long: `Set the recorded schema version and clear the dirty flag. Use it
to recover after a migration failed part way.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				return withMigrator(cmd, deps, func(m Migrator) error {
					cmd.Printf("Forcing schema version %d...\n", version)
					return m.Force(version)
				})
			},
		},
	)

	return cmd
}

// withMigrator opens a migrator, runs fn and closes it.
func withMigrator(cmd *cobra.Command, deps *CommandDeps, fn func(Migrator) error) error {
	databaseURL, err := databaseURL(deps.Getenv)
	if err != nil {
		return err
	}

	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migrator: %v\n", closeErr)
		}
	}()

	if err := fn(m); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", cmd.Name()).Wrap(err)
	}
	return nil
}

// databaseURL reads the database URL from the environment.
func databaseURL(getenv func(string) string) (string, error) {
	url := getenv(config.DatabaseURLEnv)
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.DatabaseURLEnv)
	}
	return url, nil
}

// parseForceVersion reads the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("invalid version %q: must be an integer", s)
	}
	return version, nil
}

func formatMigrationStatus(st *store.Status) string {
	var b strings.Builder
	if st.Version == 0 {
		b.WriteString("Schema version: none\n")
	} else {
		fmt.Fprintf(&b, "Schema version: %d (%s)\n", st.Version, st.Name)
	}
	if st.Dirty {
		b.WriteString("State: dirty (run 'warden migrate force VERSION' after fixing)\n")
	}
	fmt.Fprintf(&b, "Applied: %d\n", len(st.Applied))
	fmt.Fprintf(&b, "Pending: %d\n", len(st.Pending))
	for _, v := range st.Pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}
