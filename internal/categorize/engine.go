// Package categorize assigns spending categories to transaction descriptions
// via an external classification service, with an in-process cache and a
// degraded fallback when the service is unavailable.
package categorize

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spendflow/spendflow/internal/domain"
)

// UncategorizedLabel is the sentinel used when classification is unavailable.
const UncategorizedLabel = "Uncategorized"

// Assignment is a category/subcategory pair attached to a transaction.
type Assignment struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// Uncategorized returns the sentinel assignment. Rows never carry a null
// category.
func Uncategorized() Assignment {
	return Assignment{Category: UncategorizedLabel, Subcategory: UncategorizedLabel}
}

// Classifier is the external categorization service. debit hints at the
// amount sign; implementations may ignore it.
type Classifier interface {
	Classify(ctx context.Context, description string, debit bool) (Assignment, error)
}

// RetryPolicy bounds how classification failures are retried. Delays double
// per attempt up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries three times starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Options configures an Engine.
type Options struct {
	// Workers bounds how many classification calls run concurrently.
	Workers int
	Retry   RetryPolicy
}

// Degraded records a row that fell back to the sentinel assignment because
// the service stayed unavailable through all retries. The row still proceeds
// to persistence.
type Degraded struct {
	Line        int
	Description string
	Err         error
}

// Engine caches assignments by cleaned description for the lifetime of the
// process. The cache is shared across concurrent runs and keyed by
// description only, never by bank or amount.
type Engine struct {
	cls  Classifier
	opts Options
	log  zerolog.Logger

	mu    sync.Mutex
	cache map[string]Assignment
}

// NewEngine creates an engine around the given classifier.
func NewEngine(cls Classifier, opts Options, log zerolog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Engine{
		cls:   cls,
		opts:  opts,
		log:   log,
		cache: make(map[string]Assignment),
	}
}

// Assign returns the assignment for one description, consulting the cache
// first. On service failure it retries per the policy and finally returns
// the sentinel together with the cause; a non-nil error always accompanies
// a degraded (sentinel) result and never a cached or successful one.
func (e *Engine) Assign(ctx context.Context, description string, debit bool) (Assignment, error) {
	e.mu.Lock()
	if a, ok := e.cache[description]; ok {
		e.mu.Unlock()
		return a, nil
	}
	e.mu.Unlock()

	a, err := e.classifyWithRetry(ctx, description, debit)
	if err != nil {
		return Uncategorized(), err
	}

	e.mu.Lock()
	e.cache[description] = a
	e.mu.Unlock()
	return a, nil
}

func (e *Engine) classifyWithRetry(ctx context.Context, description string, debit bool) (Assignment, error) {
	delay := e.opts.Retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= e.opts.Retry.MaxAttempts; attempt++ {
		a, err := e.cls.Classify(ctx, description, debit)
		if err == nil {
			return a, nil
		}
		lastErr = err
		e.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("description", description).
			Msg("Classification attempt failed")

		if attempt == e.opts.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Assignment{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > e.opts.Retry.MaxDelay {
			delay = e.opts.Retry.MaxDelay
		}
	}
	return Assignment{}, lastErr
}

// AssignAll categorizes a batch with bounded parallelism. The returned
// assignments are positionally aligned with txns regardless of the order in
// which concurrent calls complete. Degraded rows are reported separately and
// still receive the sentinel assignment in place.
func (e *Engine) AssignAll(ctx context.Context, txns []domain.Transaction) ([]Assignment, []Degraded) {
	assignments := make([]Assignment, len(txns))
	degraded := make([]Degraded, len(txns))

	sem := make(chan struct{}, e.opts.Workers)
	var wg sync.WaitGroup
	for i, txn := range txns {
		wg.Add(1)
		go func(i int, txn domain.Transaction) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			a, err := e.Assign(ctx, txn.Description, txn.IsDebit())
			assignments[i] = a
			if err != nil {
				degraded[i] = Degraded{Line: txn.Line, Description: txn.Description, Err: err}
			}
		}(i, txn)
	}
	wg.Wait()

	var warnings []Degraded
	for _, d := range degraded {
		if d.Err != nil {
			warnings = append(warnings, d)
		}
	}
	return assignments, warnings
}
