package main

import (
	jobrunner "github.com/TimeWtr/job_runner"
	"github.com/TimeWtr/job_runner/repository/dao"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := dao.Migrate(cmd.Context(), a.db); err != nil {
				return err
			}
			if err := jobrunner.MigrateLease(cmd.Context(), a.db); err != nil {
				return err
			}
			a.logger.Info("database migrated")
			return nil
		},
	}
}
