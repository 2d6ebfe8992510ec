package main

import (
	"fmt"

	jobrunner "github.com/TimeWtr/job_runner"
	"github.com/TimeWtr/job_runner/repository"
	"github.com/spf13/cobra"
)

func newRescheduleCmd(a *app) *cobra.Command {
	var jobID int64
	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Compute and create the next run of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo := repository.NewRepository(a.db)
			r, err := a.rescheduler(repo, nil)
			if err != nil {
				return err
			}

			run, err := r.Reschedule(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "job %d: no run created\n", jobID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %d: run %d scheduled at %s\n",
				jobID, run.ID, run.ScheduleDts.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newScheduleNowCmd(a *app) *cobra.Command {
	var (
		jobID  int64
		manual bool
	)
	cmd := &cobra.Command{
		Use:   "schedule-now",
		Short: "Create a run of a job scheduled for now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo := repository.NewRepository(a.db)
			r, err := a.rescheduler(repo, nil)
			if err != nil {
				return err
			}

			job, err := repo.GetJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			var opts []jobrunner.ScheduleNowOptions
			if manual {
				opts = append(opts, jobrunner.AsManual())
			}
			run, err := r.ScheduleNow(cmd.Context(), job, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %d: run %d scheduled now\n", jobID, run.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id")
	cmd.Flags().BoolVar(&manual, "manual", false, "enqueue even when the job has enqueueing disabled")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}
