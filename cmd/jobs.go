package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/repairer-sync/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs and retry failed cities",
}

// -- jobs list --

var jobsListLimit int

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		eng, closeFn, err := readOnlyEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		jobs, err := eng.ListJobs(ctx, jobsListLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No jobs found.")
			return nil
		}
		printJobs(cmd.OutOrStdout(), jobs)
		return nil
	},
}

func printJobs(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tSOURCE\tMODE\tSTATUS\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Scope.String(), j.Source, j.Mode,
			jobStatusColor(j.Status).Sprint(string(j.Status)),
			j.CreatedAt.Local().Format(time.DateTime), j.Error)
	}
	_ = tw.Flush()
}

// -- jobs retry --

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id> <city-code>",
	Short: "Put an errored city back to pending; the next start of the job picks it up",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, closeFn, err := readOnlyEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := eng.RetrySubScope(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reset to pending in job %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 20, "maximum number of jobs to list")
	jobsCmd.AddCommand(jobsListCmd, jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}
