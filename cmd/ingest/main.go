package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/spendflow/spendflow/internal/bank"
	"github.com/spendflow/spendflow/internal/categorize"
	"github.com/spendflow/spendflow/internal/config"
	"github.com/spendflow/spendflow/internal/logger"
	"github.com/spendflow/spendflow/internal/pipeline"
	"github.com/spendflow/spendflow/internal/source"
	"github.com/spendflow/spendflow/internal/store"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	file := flag.String("file", "", "Statement to ingest: a local CSV path or a gs:// URI")
	paramsPath := flag.String("params", "params.yaml", "Path to the params YAML file")
	flag.Parse()

	if *file == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	cfg, err := config.Load(*paramsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctx = logger.WithContext(ctx, log)

	pg, err := store.NewPostgres(ctx, cfg.DB.URL(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}

	classifier, err := categorize.NewGeminiClassifier(ctx, cfg.Classifier.Model, cfg.Taxonomy)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create classifier")
	}

	engine := categorize.NewEngine(classifier, categorize.Options{
		Workers: cfg.Classifier.MaxWorkers,
		Retry:   cfg.Classifier.RetryPolicy(),
	}, log)

	if cfg.Classifier.CacheFile != "" {
		if err := engine.LoadCache(cfg.Classifier.CacheFile); err != nil {
			log.Warn().Err(err).Str("path", cfg.Classifier.CacheFile).Msg("Failed to load category cache")
		}
	}

	orchestrator := pipeline.New(bank.DefaultRegistry(), pg, engine, log)

	log.Info().Str("file", *file).Msg("Starting ingestion")

	data, filename, err := source.Fetch(ctx, *file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}

	result, err := orchestrator.Run(ctx, pipeline.Batch{Filename: filename, Data: data})
	if err != nil {
		log.Fatal().Err(err).Str("reason", result.FailReason).Msg("Ingestion failed")
	}

	if cfg.Classifier.CacheFile != "" {
		if err := engine.SaveCache(cfg.Classifier.CacheFile); err != nil {
			log.Error().Err(err).Str("path", cfg.Classifier.CacheFile).Msg("Failed to save category cache")
		}
	}

	fmt.Printf("Ingestion completed: bank=%s rows=%d inserted=%d duplicates=%d failed_rows=%d warnings=%d\n",
		result.Bank, result.TotalRows, result.InsertedCount, result.DuplicateCount,
		len(result.FailedRows), len(result.Warnings))
}
