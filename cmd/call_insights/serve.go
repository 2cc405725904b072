package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/call-insights/internal/classify"
	"github.com/jonathan/call-insights/internal/config"
	"github.com/jonathan/call-insights/internal/gong"
	"github.com/jonathan/call-insights/internal/logger"
	"github.com/jonathan/call-insights/internal/notify"
	"github.com/jonathan/call-insights/internal/pipeline"
	"github.com/jonathan/call-insights/internal/server"
	"github.com/jonathan/call-insights/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long:  `Start an HTTP server exposing the /process endpoint that runs the ingestion and classification pipeline.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New()
	log.WithField("service", "call-insights").Info("starting service")

	ctx := cmd.Context()

	st, err := store.Connect(ctx, store.Config{
		SupabaseURL:      cfg.SupabaseURL,
		SupabaseKey:      cfg.SupabaseKey,
		DatabaseURL:      cfg.DatabaseURL,
		DatabasePassword: cfg.DatabasePassword,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer st.Close()

	source := gong.NewClient(gong.Options{
		BaseURL:         cfg.GongBaseURL,
		AccessKey:       cfg.GongAccessKey,
		AccessKeySecret: cfg.GongAccessKeySecret,
		PageSize:        cfg.PageSize,
		Timeout:         cfg.CallTimeout,
		Log:             log.Entry,
	})

	classifier, err := classify.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.CallHost)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	defer classifier.Close()

	notifier := notify.NewSlackWebhook(cfg.SlackWebhookURL, cfg.CallTimeout)

	run := func(ctx context.Context, opts pipeline.Options) (*pipeline.Summary, error) {
		return pipeline.Run(ctx, pipeline.Deps{
			Source:     source,
			Store:      st,
			Classifier: classifier,
			Notifier:   notifier,
			Log:        log.Entry,
		}, opts)
	}

	return server.New(servePort, cfg, run, log).Start()
}
