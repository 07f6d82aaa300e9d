// Package pipeline sequences statement ingestion: format detection,
// normalization, deduplication, categorization, persistence. Format-level
// failures abort a batch before any row is touched; every later stage
// isolates failures per row and accumulates them into the RunResult.
package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spendflow/spendflow/internal/bank"
	"github.com/spendflow/spendflow/internal/categorize"
	"github.com/spendflow/spendflow/internal/dedup"
	"github.com/spendflow/spendflow/internal/normalize"
	"github.com/spendflow/spendflow/internal/store"
)

// Gateway is the persistence capability the orchestrator depends on. The
// store enforces the identity_key uniqueness constraint; the orchestrator
// never assumes exclusive access to it.
type Gateway interface {
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
	InsertBatch(ctx context.Context, recs []store.Record) (int, error)
}

// Batch is one uploaded statement file.
type Batch struct {
	Filename string
	Data     []byte
}

// Orchestrator drives the ingestion sequence once per batch. It is safe for
// concurrent runs across different batches.
type Orchestrator struct {
	registry *bank.Registry
	gateway  Gateway
	engine   *categorize.Engine
	log      zerolog.Logger
}

// New creates an orchestrator.
func New(registry *bank.Registry, gateway Gateway, engine *categorize.Engine, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{registry: registry, gateway: gateway, engine: engine, log: log}
}

// Run executes the full pipeline for one batch and returns its RunResult.
// The result is always non-nil; a non-nil error accompanies run-level
// failures (format rejection, persistence outage, cancellation), with the
// matching reason code set on the result.
func (o *Orchestrator) Run(ctx context.Context, batch Batch) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		Filename:  batch.Filename,
		State:     StateDetecting,
		StartedAt: time.Now().UTC(),
	}
	defer func() { result.FinishedAt = time.Now().UTC() }()

	log := o.log.With().Str("run_id", result.RunID).Str("filename", batch.Filename).Logger()

	records, err := readCSV(batch.Data)
	if err != nil {
		return o.fail(result, ReasonUnrecognizedFormat, fmt.Errorf("%w: %v", bank.ErrUnrecognizedFormat, err))
	}
	if len(records) == 0 {
		return o.fail(result, ReasonUnrecognizedFormat, fmt.Errorf("%w: empty file", bank.ErrUnrecognizedFormat))
	}

	sig, err := o.registry.Detect(records[0])
	if err != nil {
		reason := ReasonUnrecognizedFormat
		if errors.Is(err, bank.ErrAmbiguousFormat) {
			reason = ReasonAmbiguousFormat
		}
		return o.fail(result, reason, err)
	}
	result.Bank = sig.Bank
	log = log.With().Str("bank", string(sig.Bank)).Logger()
	log.Info().Msg("Detected statement format")

	result.State = StateNormalizing
	rows := normalize.BuildRows(sig, records)
	result.TotalRows = len(rows)

	txns, rowErrs := normalize.Statement(sig, rows)
	for _, rerr := range rowErrs {
		result.FailedRows = append(result.FailedRows, FailedRow{
			Line:   rerr.Line,
			Field:  rerr.Field,
			Reason: rerr.Error(),
		})
	}
	log.Info().
		Int("total_rows", result.TotalRows).
		Int("parsed", len(txns)).
		Int("failed", len(rowErrs)).
		Msg("Normalized statement rows")

	result.State = StateDeduplicating
	part, err := dedup.Filter(ctx, o.gateway, txns)
	if err != nil {
		return o.fail(result, ReasonPersistenceError, err)
	}
	result.DuplicateCount = len(part.Duplicates)

	result.State = StateCategorizing
	assignments, degraded := o.engine.AssignAll(ctx, part.Insert)
	for _, d := range degraded {
		result.Warnings = append(result.Warnings, Warning{
			Line:    d.Line,
			Code:    WarnCategorizationDegraded,
			Message: fmt.Sprintf("categorization unavailable for %q: %v", d.Description, d.Err),
		})
	}

	// A cancelled run must not persist partially categorized rows. Anything
	// already committed by earlier runs stays committed.
	if err := ctx.Err(); err != nil {
		return o.fail(result, ReasonCancelled, err)
	}

	result.State = StatePersisting
	processedAt := time.Now().UTC()
	recs := make([]store.Record, len(part.Insert))
	for i, txn := range part.Insert {
		recs[i] = store.RecordOf(txn, assignments[i], processedAt)
	}

	inserted, err := o.gateway.InsertBatch(ctx, recs)
	if err != nil {
		return o.fail(result, ReasonPersistenceError, err)
	}
	result.InsertedCount = inserted
	// Rows the store's conflict clause skipped lost a race with a concurrent
	// run; they are duplicates, not failures.
	result.DuplicateCount += len(recs) - inserted

	result.State = StateComplete
	log.Info().
		Int("inserted", result.InsertedCount).
		Int("duplicates", result.DuplicateCount).
		Int("failed_rows", len(result.FailedRows)).
		Int("warnings", len(result.Warnings)).
		Msg("Batch complete")
	return result, nil
}

func (o *Orchestrator) fail(result *RunResult, reason string, err error) (*RunResult, error) {
	result.State = StateFailed
	result.FailReason = reason
	o.log.Error().
		Err(err).
		Str("run_id", result.RunID).
		Str("filename", result.Filename).
		Str("reason", reason).
		Msg("Batch failed")
	return result, err
}

// readCSV parses the raw file. Banner-style exports have ragged rows, so no
// fixed field count is enforced.
func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	return records, nil
}
