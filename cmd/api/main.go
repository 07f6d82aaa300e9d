package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/spendflow/spendflow/internal/api/handlers"
	"github.com/spendflow/spendflow/internal/api/middleware"
	"github.com/spendflow/spendflow/internal/bank"
	"github.com/spendflow/spendflow/internal/categorize"
	"github.com/spendflow/spendflow/internal/config"
	"github.com/spendflow/spendflow/internal/jobs"
	"github.com/spendflow/spendflow/internal/jobs/inmemory"
	"github.com/spendflow/spendflow/internal/logger"
	"github.com/spendflow/spendflow/internal/pipeline"
	"github.com/spendflow/spendflow/internal/source"
	"github.com/spendflow/spendflow/internal/store"
)

func main() {
	paramsPath := flag.String("params", "params.yaml", "Path to the params YAML file")
	flag.Parse()

	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(*paramsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	// Connect to the transaction store and make sure the schema exists
	pg, err := store.NewPostgres(ctx, cfg.DB.URL(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}

	// Initialize the categorization engine
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

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 2, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.IngestStatementJob) error {
		log.Info().
			Str("job_id", job.JobID).
			Str("source", job.Source).
			Msg("Processing ingestion job")

		data, filename, err := source.Fetch(ctx, job.Source)
		if err != nil {
			return err
		}
		if job.Filename != "" {
			filename = job.Filename
		}

		result, err := orchestrator.Run(ctx, pipeline.Batch{Filename: filename, Data: data})
		job.Result = result
		if err != nil {
			return err
		}

		log.Info().
			Str("job_id", job.JobID).
			Str("run_id", result.RunID).
			Int("inserted", result.InsertedCount).
			Int("duplicates", result.DuplicateCount).
			Msg("Ingestion job completed")
		return nil
	}

	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	statementsHandler := handlers.NewStatementsHandler(jobQueue, cfg.Inbox.Dir, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	r := mux.NewRouter()
	r.HandleFunc("/api/statements", statementsHandler.UploadStatement).Methods(http.MethodPost)
	r.HandleFunc("/api/statements/ingest", statementsHandler.EnqueueIngest).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/health", handlers.HealthHandler).Methods(http.MethodGet)

	// Apply middleware; RequestID runs before Logger so the request-scoped
	// logger carries the ID
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(r),
			),
		),
	)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if cfg.Classifier.CacheFile != "" {
		if err := engine.SaveCache(cfg.Classifier.CacheFile); err != nil {
			log.Error().Err(err).Str("path", cfg.Classifier.CacheFile).Msg("Failed to save category cache")
		}
	}

	log.Info().Msg("Server exited")
}
