package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/api"
	"github.com/sells-group/repairer-sync/internal/source"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job-control API and the scraping worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		eng := newEngine(env, source.FromConfig(cfg))
		if _, err := eng.Recover(ctx); err != nil {
			return err
		}

		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			eng.Run(ctx)
		}()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(eng, cfg.Server.CORSOrigins).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// The worker stops the running job at its next sub-scope boundary.
		<-workerDone
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
