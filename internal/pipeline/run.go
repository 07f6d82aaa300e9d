package pipeline

import (
	"time"

	"github.com/spendflow/spendflow/internal/bank"
)

// State is the orchestrator's position in the ingestion sequence. Transitions
// are strictly forward; StateFailed is terminal.
type State string

const (
	StateDetecting     State = "DETECTING"
	StateNormalizing   State = "NORMALIZING"
	StateDeduplicating State = "DEDUPLICATING"
	StateCategorizing  State = "CATEGORIZING"
	StatePersisting    State = "PERSISTING"
	StateComplete      State = "COMPLETE"
	StateFailed        State = "FAILED"
)

// Run-level failure reason codes reported to the caller.
const (
	ReasonUnrecognizedFormat = "UNRECOGNIZED_FORMAT"
	ReasonAmbiguousFormat    = "AMBIGUOUS_FORMAT"
	ReasonPersistenceError   = "PERSISTENCE_ERROR"
	ReasonCancelled          = "CANCELLED"
)

// WarnCategorizationDegraded marks a row persisted with the sentinel category
// because the classification service stayed unavailable.
const WarnCategorizationDegraded = "CATEGORIZATION_DEGRADED"

// FailedRow is one row that was recorded and skipped.
type FailedRow struct {
	Line   int    `json:"line"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// Warning is a row-level soft failure; the row still proceeded.
type Warning struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunResult summarizes one orchestrator invocation. It is created fresh per
// run, returned to the caller, and never persisted by the pipeline itself.
type RunResult struct {
	RunID    string  `json:"run_id"`
	Filename string  `json:"filename"`
	Bank     bank.ID `json:"bank,omitempty"`

	State      State  `json:"state"`
	FailReason string `json:"fail_reason,omitempty"`

	TotalRows      int `json:"total_rows"`
	InsertedCount  int `json:"inserted_count"`
	DuplicateCount int `json:"duplicate_count"`

	FailedRows []FailedRow `json:"failed_rows,omitempty"`
	Warnings   []Warning   `json:"warnings,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
