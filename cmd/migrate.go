package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/miriadlabs/miriad/internal/config"
	"github.com/miriadlabs/miriad/internal/store"
)

func openStoreForMigration() (*store.Store, error) {
	path := flagDB
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.DBPath
	}
	return store.Open(path)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			s, err := openStoreForMigration()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, dirty, _ := s.MigrationVersion()
			slog.Info("migration complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			s, err := openStoreForMigration()
			if err != nil {
				return err
			}
			defer s.Close()

			if steps <= 0 {
				steps = 1
			}
			if err := s.MigrateDown(steps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			v, dirty, _ := s.MigrationVersion()
			slog.Info("rollback complete", "version", v, "dirty", dirty)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStoreForMigration()
			if err != nil {
				return err
			}
			defer s.Close()

			v, dirty, err := s.MigrationVersion()
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			s, err := openStoreForMigration()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ForceMigrationVersion(version); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			slog.Info("forced version", "version", version)
			return nil
		},
	}
}
