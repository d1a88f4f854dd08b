package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

// NewMigrateCommand applies the Postgres migrations
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connectDB(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrate(rootOpts, db)
		},
	}
}

func migrate(opts *RootOptions, db database.DB) error {
	cfg := opts.Config
	return database.NewMigrationService(opts.Logger, database.MigrationConfig{
		Folder:       cfg.DatabaseMigrationFolderPath,
		Version:      cfg.DatabaseMigrationVersion,
		Force:        cfg.DatabaseMigrationForce,
		AutoRollback: cfg.DatabaseMigrationAutoRollback,
	}).MigratePostgres(db)
}
