// Package dedup decides which normalized transactions are eligible for
// insertion. It performs no writes; the store's uniqueness constraint remains
// the final arbiter under concurrent runs.
package dedup

import (
	"context"
	"fmt"

	"github.com/spendflow/spendflow/internal/domain"
)

// KeyChecker is the membership-check capability against already-persisted
// identity keys. Implementations must answer with a single batched query.
type KeyChecker interface {
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// Partition separates a batch into rows to insert and rows skipped as
// duplicates.
type Partition struct {
	Insert     []domain.Transaction
	Duplicates []domain.Transaction
}

// Filter partitions txns against the store and against the batch itself.
// Rows whose identity key is already persisted are duplicates, as are later
// occurrences of a key repeated within the batch (first occurrence wins).
// Exactly one ExistingKeys call is issued regardless of batch size.
func Filter(ctx context.Context, checker KeyChecker, txns []domain.Transaction) (Partition, error) {
	if len(txns) == 0 {
		return Partition{}, nil
	}

	keys := make([]string, len(txns))
	for i, txn := range txns {
		keys[i] = txn.IdentityKey()
	}

	existing, err := checker.ExistingKeys(ctx, keys)
	if err != nil {
		return Partition{}, fmt.Errorf("checking persisted identity keys: %w", err)
	}

	var part Partition
	seen := make(map[string]bool, len(txns))
	for i, txn := range txns {
		key := keys[i]
		if existing[key] || seen[key] {
			part.Duplicates = append(part.Duplicates, txn)
			continue
		}
		seen[key] = true
		part.Insert = append(part.Insert, txn)
	}
	return part, nil
}
