package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	for _, dir := range []string{cfg.Inbox.Dir, cfg.Inbox.ProcessedDir, cfg.Inbox.ErrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create inbox directory")
		}
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore)

	scanner := newInboxScanner(cfg.Inbox.Dir, jobQueue, log)

	// Processes one staged statement, then retires the file so the next scan
	// does not pick it up again.
	handler := func(ctx context.Context, job *jobs.IngestStatementJob) error {
		log.Info().
			Str("job_id", job.JobID).
			Str("source", job.Source).
			Msg("Processing ingestion job")

		data, filename, err := source.Fetch(ctx, job.Source)
		if err != nil {
			retireFile(log, job.Source, cfg.Inbox.ErrorDir, false)
			scanner.Forget(job.Source)
			return err
		}

		result, runErr := orchestrator.Run(ctx, pipeline.Batch{Filename: filename, Data: data})
		job.Result = result
		if runErr != nil {
			retireFile(log, job.Source, cfg.Inbox.ErrorDir, false)
			scanner.Forget(job.Source)
			return runErr
		}

		retireFile(log, job.Source, cfg.Inbox.ProcessedDir, true)
		scanner.Forget(job.Source)

		log.Info().
			Str("job_id", job.JobID).
			Str("run_id", result.RunID).
			Str("bank", string(result.Bank)).
			Int("inserted", result.InsertedCount).
			Int("duplicates", result.DuplicateCount).
			Msg("Ingestion job completed")
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Inbox.ScanSpec, func() { scanner.Scan(ctx) }); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Inbox.ScanSpec).Msg("Invalid scan schedule")
	}
	c.Start()

	log.Info().
		Str("inbox", cfg.Inbox.Dir).
		Str("schedule", cfg.Inbox.ScanSpec).
		Msg("Worker service started, watching inbox")

	// Pick up anything already waiting before the first tick.
	scanner.Scan(ctx)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if cfg.Classifier.CacheFile != "" {
		if err := engine.SaveCache(cfg.Classifier.CacheFile); err != nil {
			log.Error().Err(err).Str("path", cfg.Classifier.CacheFile).Msg("Failed to save category cache")
		}
	}

	log.Info().Msg("Worker service exited")
}

// inboxScanner enqueues new CSV files from the inbox directory. It remembers
// which paths it already enqueued so overlapping scans never double-publish,
// and it forgets a path once the file leaves the inbox so a later statement
// arriving under the same name is picked up again.
type inboxScanner struct {
	dir   string
	queue jobs.Publisher
	log   zerolog.Logger

	mu       sync.Mutex
	enqueued map[string]bool
}

func newInboxScanner(dir string, queue jobs.Publisher, log zerolog.Logger) *inboxScanner {
	return &inboxScanner{
		dir:      dir,
		queue:    queue,
		log:      log,
		enqueued: make(map[string]bool),
	}
}

// Scan enqueues every CSV in the inbox not already enqueued, then drops
// tracking entries for paths no longer present.
func (s *inboxScanner) Scan(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error().Err(err).Str("dir", s.dir).Msg("Inbox scan failed")
		return
	}

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		present[path] = true
		if s.enqueued[path] {
			continue
		}

		job := &jobs.IngestStatementJob{Source: path, Filename: entry.Name()}
		if err := s.queue.PublishIngest(ctx, job); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("Failed to enqueue statement")
			continue
		}
		s.enqueued[path] = true
		s.log.Info().Str("job_id", job.JobID).Str("path", path).Msg("Statement enqueued")
	}

	for path := range s.enqueued {
		if !present[path] {
			delete(s.enqueued, path)
		}
	}
}

// Forget drops the tracking entry for a path whose file was retired, so a
// fresh statement staged under the same name is enqueued by the next scan.
func (s *inboxScanner) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enqueued, path)
}

// retireFile moves a processed statement out of the inbox. Processed files get
// a timestamp prefix so re-exports of the same statement never collide. Remote
// sources are left in place.
func retireFile(log zerolog.Logger, path, destDir string, stamp bool) {
	if strings.HasPrefix(path, "gs://") {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	name := filepath.Base(path)
	if stamp {
		name = time.Now().Format("20060102T150405") + "_" + name
	}
	dest := filepath.Join(destDir, name)
	if err := os.Rename(path, dest); err != nil {
		log.Error().Err(err).Str("path", path).Str("dest", dest).Msg("Failed to move statement file")
		return
	}
	log.Info().Str("path", path).Str("dest", dest).Msg("Statement file moved")
}
