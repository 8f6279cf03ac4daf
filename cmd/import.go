package main

import (
	"encoding/json"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/repairer-sync/internal/fetcher"
	"github.com/sells-group/repairer-sync/internal/importer"
	"github.com/sells-group/repairer-sync/pkg/notion"
)

var (
	importChunk     int
	importSheet     string
	importDelimiter string
)

var importCmd = &cobra.Command{
	Use:   "import <location>",
	Short: "Import repairers from a CSV, XLSX or JSON file, a URL or a Notion database",
	Long: "Location is a local path, an http(s):// or ftp:// URL, or notion://<database-id>. " +
		"Rows go through the same normalize, geocode, classify and reconcile steps as scraped results.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var delim rune
		if importDelimiter != "" {
			if utf8.RuneCountInString(importDelimiter) != 1 {
				return eris.Errorf("delimiter must be a single character, got %q", importDelimiter)
			}
			delim, _ = utf8.DecodeRuneInString(importDelimiter)
		}

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		router := fetcher.NewRouter(
			fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
			fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
		)
		var nc notion.Client
		if cfg.Notion.Token != "" {
			nc = notion.NewClient(cfg.Notion.Token)
		}

		im := importer.New(router, nc, env.Pipeline, importer.Config{
			ChunkSize: importChunk,
			Sheet:     importSheet,
			Delimiter: delim,
		})
		start := time.Now()
		rep, err := im.Import(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			importer.Report
			Elapsed string `json:"elapsed"`
		}{rep, time.Since(start).Round(time.Millisecond).String()})
	},
}

func init() {
	importCmd.Flags().IntVar(&importChunk, "chunk", 100, "rows sent to the pipeline at once")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (first sheet by default)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV delimiter (sniffed by default)")
	rootCmd.AddCommand(importCmd)
}
