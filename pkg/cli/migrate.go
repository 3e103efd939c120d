package cli

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Catalog.Driver != "postgres" {
				return apperrors.Configuration("migrate requires catalog.driver=postgres, got %q", cfg.Catalog.Driver)
			}

			db, err := openCatalogDB(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(db, logger); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"migrated": true})
		},
	}
}
