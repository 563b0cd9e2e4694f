package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// SchemaMigrator is the subset of *postgres.Migrator the migrate command uses.
type SchemaMigrator interface {
	Up() error
	Down(steps int) error
	Status() (version uint, dirty bool, err error)
	Force(version int) error
}

// newMigrator builds the migrator; tests replace it.
var newMigrator = func(cfg config.DatabaseConfig, log logging.Logger) SchemaMigrator {
	return postgres.NewMigrator(cfg, log)
}

var migrateDownSteps int

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the molecule and fingerprint schemas",
		Long:  "Applies the embedded SQL migrations that create the default molecule and fingerprint tables.",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, log, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			if err := m.Up(); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migration failed")
			}
			log.Info("schema migrated")
			PrintSuccess(cmd, "schema is up to date")
			return nil
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateDownSteps < 1 {
				return errors.InvalidParam(fmt.Sprintf("steps must be at least 1, got %d", migrateDownSteps))
			}
			m, _, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			if err := m.Down(migrateDownSteps); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "rollback failed")
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", migrateDownSteps))
			return nil
		},
	}
	downCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := m.Status()
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read schema version")
			}
			fmt.Fprint(cmd.OutOrStdout(), FormatTable(
				[]string{"VERSION", "DIRTY"},
				[][]string{{strconv.FormatUint(uint64(version), 10), strconv.FormatBool(dirty)}},
			))
			return nil
		},
	}

	forceCmd := &cobra.Command{
		Use:   "force VERSION",
		Short: "Record a schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < -1 {
				return errors.InvalidParam("version must be an integer >= -1").WithDetail(args[0])
			}
			m, log, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to force schema version")
			}
			log.Warn("schema version forced", logging.Int("version", version))
			PrintSuccess(cmd, fmt.Sprintf("schema version set to %d", version))
			return nil
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, statusCmd, forceCmd)
	return migrateCmd
}

func migratorFor(cmd *cobra.Command) (SchemaMigrator, logging.Logger, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	log := cliCtx.Logger.Named("migrate")
	return newMigrator(cliCtx.Config.Database, log), log, nil
}
