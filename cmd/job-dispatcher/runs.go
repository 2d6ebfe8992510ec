package main

import (
	"fmt"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/TimeWtr/job_runner/repository"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	var (
		jobID int64
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs of a job, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter _const.RunState
			if state != "" {
				var ok bool
				if filter, ok = _const.ParseRunState(state); !ok {
					return errors.Newf("unknown run state %q", state)
				}
			}

			repo := repository.NewRepository(a.db)
			runs, err := repo.ListRuns(cmd.Context(), jobID, filter, limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				worker := "-"
				if run.Worker != nil {
					worker = run.Worker.APIKey
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", run.ID, run.State(),
					run.ScheduleDts.Format("2006-01-02T15:04:05Z07:00"), worker)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id")
	cmd.Flags().StringVar(&state, "state", "",
		"only runs in this state: scheduled, in_queue, started, completed, completed_successful, completed_with_error")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs, 0 for all")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}
