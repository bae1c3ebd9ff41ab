package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agentpilot-us/revenue-agents-sub002/internal/model"
	"github.com/agentpilot-us/revenue-agents-sub002/internal/store"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsOffset int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect import jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
			Offset: jobsOffset,
		})
		if err != nil {
			return err
		}

		return printJSON(jobs)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one import job with its full progress record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return err
		}

		return printJSON(job)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running import job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		ok, err := st.RequestCancel(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return eris.Errorf("job %s is already terminal", args[0])
		}

		return printJSON(map[string]string{"job_id": args[0], "cancel": "requested"})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by job status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to return")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "offset into the result set")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
