package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/source"
)

var (
	scrapeSource string
	scrapeMode   string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <scope>",
	Short: "Run one scraping job in the foreground",
	Long: "Scope is nation, region:<code>, department:<code> (or dept:<code>) or city:<dept>-<slug>. " +
		"The first interrupt stops the job after the current city; a second one aborts it.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := model.ParseScope(args[0])
		if err != nil {
			return err
		}
		src, ok := model.ParseSourceKind(scrapeSource)
		if !ok {
			return eris.Errorf("unknown source %q (places, websearch, ai)", scrapeSource)
		}
		mode, ok := model.ParseJobMode(scrapeMode)
		if !ok {
			return eris.Errorf("unknown mode %q (full, test)", scrapeMode)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		env, err := initEnv(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		eng := newEngine(env, source.FromConfig(cfg))
		if _, err := eng.Recover(ctx); err != nil {
			return err
		}
		go eng.Run(ctx)

		res, err := eng.Start(ctx, sc, src, mode)
		if err != nil {
			return err
		}
		zap.L().Info("job started",
			zap.String("job_id", res.JobID),
			zap.Bool("resumed", res.Resumed),
			zap.String("scope", sc.String()),
		)

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				case <-sigCh:
				}
				if n == 0 {
					zap.L().Info("stopping after the current city; interrupt again to abort")
					_, _ = eng.Stop()
					continue
				}
				cancel()
				return
			}
		}()

		job, err := eng.Wait(context.WithoutCancel(ctx), res.JobID)
		if err != nil {
			return err
		}

		rep, err := eng.Status(context.WithoutCancel(ctx), job.ID)
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), rep, false)

		if job.Status == model.JobFailed {
			return eris.Errorf("job %s failed: %s", job.ID, job.Error)
		}
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeSource, "source", string(model.SourcePlaces), "source to crawl (places, websearch, ai)")
	scrapeCmd.Flags().StringVar(&scrapeMode, "mode", string(model.ModeFull), "full or test (few cities, one query)")
	rootCmd.AddCommand(scrapeCmd)
}
