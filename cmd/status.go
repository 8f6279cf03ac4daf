package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sells-group/repairer-sync/internal/engine"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/scope"
)

var (
	statusJSON bool
	statusAll  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a job's progress (latest job by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, closeFn, err := readOnlyEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		rep, err := eng.Status(ctx, id)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		printStatus(cmd.OutOrStdout(), rep, statusAll)
		return nil
	},
}

// readOnlyEngine opens the store for commands that only inspect or reset
// job state.
func readOnlyEngine(ctx context.Context) (*engine.Engine, func(), error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	ref, err := scope.Load(cfg.Scope.CommunesPath)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	env := &appEnv{Store: st, Walker: scope.NewWalker(ref)}
	return newEngine(env, nil), env.Close, nil
}

func jobStatusColor(s model.JobStatus) *color.Color {
	switch s {
	case model.JobCompleted:
		return color.New(color.FgGreen)
	case model.JobRunning:
		return color.New(color.FgCyan)
	case model.JobFailed:
		return color.New(color.FgRed)
	}
	return color.New(color.FgYellow)
}

func subScopeColor(s model.SubScopeStatus) *color.Color {
	switch s {
	case model.SubScopeDone:
		return color.New(color.FgGreen)
	case model.SubScopeRunning:
		return color.New(color.FgCyan)
	case model.SubScopeErrored:
		return color.New(color.FgRed)
	}
	return color.New(color.Faint)
}

// printStatus writes a status report. Unless all is set, only sub-scopes
// that did something or failed are listed.
func printStatus(w io.Writer, rep *model.JobStatusReport, all bool) {
	job := rep.Job
	fmt.Fprintf(w, "Job %s  %s\n", job.ID, jobStatusColor(job.Status).Sprint(string(job.Status)))
	fmt.Fprintf(w, "  scope:   %s\n  source:  %s\n  mode:    %s\n", job.Scope.String(), job.Source, job.Mode)
	if job.Error != "" {
		fmt.Fprintf(w, "  error:   %s\n", color.New(color.FgRed).Sprint(job.Error))
	}
	if rep.StopRequested {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgYellow).Sprint("stop requested"))
	}
	fmt.Fprintf(w, "  cities:  %d done, %d pending, %s\n",
		rep.Done, rep.Pending, errorCount(rep.ErrorCount))
	t := rep.Totals
	fmt.Fprintf(w, "  items:   %d fetched, %d added, %d updated, %d skipped\n\n",
		t.Fetched, t.Added, t.Updated, t.Skipped)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCITY\tSTATUS\tFETCHED\tADDED\tUPDATED\tSKIPPED\tERROR")
	for _, p := range rep.SubScopes {
		if !all && p.Status == model.SubScopePending && p.Fetched == 0 {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			p.Position+1, p.ScopeCode, subScopeColor(p.Status).Sprint(string(p.Status)),
			p.Fetched, p.Added, p.Updated, p.Skipped, p.Error)
	}
	_ = tw.Flush()
}

func errorCount(n int) string {
	s := fmt.Sprintf("%d errored", n)
	if n > 0 {
		return color.New(color.FgRed).Sprint(s)
	}
	return s
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "list untouched pending cities too")
	rootCmd.AddCommand(statusCmd)
}
