package dedup

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendflow/spendflow/internal/bank"
	"github.com/spendflow/spendflow/internal/domain"
)

type fakeChecker struct {
	known map[string]bool
	calls int
	err   error
}

func (f *fakeChecker) ExistingKeys(_ context.Context, keys []string) (map[string]bool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	hits := make(map[string]bool)
	for _, k := range keys {
		if f.known[k] {
			hits[k] = true
		}
	}
	return hits, nil
}

func txn(day int, desc, amount string) domain.Transaction {
	return domain.Transaction{
		Date:        civil.Date{Year: 2025, Month: 3, Day: day},
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Bank:        bank.OCBC360,
	}
}

func TestFilter_PartitionsAgainstStore(t *testing.T) {
	a := txn(14, "NTUC FP", "-45.20")
	b := txn(15, "SALARY MAR", "5200.00")
	c := txn(16, "KOPITIAM", "-5.60")

	checker := &fakeChecker{known: map[string]bool{b.IdentityKey(): true}}

	part, err := Filter(context.Background(), checker, []domain.Transaction{a, b, c})
	require.NoError(t, err)

	require.Len(t, part.Insert, 2)
	assert.Equal(t, "NTUC FP", part.Insert[0].Description)
	assert.Equal(t, "KOPITIAM", part.Insert[1].Description)

	require.Len(t, part.Duplicates, 1)
	assert.Equal(t, "SALARY MAR", part.Duplicates[0].Description)
}

func TestFilter_IntraBatchFirstOccurrenceWins(t *testing.T) {
	a := txn(14, "NTUC FP", "-45.20")
	repeat := txn(14, "NTUC FP", "-45.20")
	repeat.Line = 9 // same identity despite a different source line

	checker := &fakeChecker{}
	part, err := Filter(context.Background(), checker, []domain.Transaction{a, repeat})
	require.NoError(t, err)

	require.Len(t, part.Insert, 1)
	require.Len(t, part.Duplicates, 1)
	assert.Equal(t, a.Line, part.Insert[0].Line)
}

func TestFilter_SingleBatchedQuery(t *testing.T) {
	checker := &fakeChecker{}
	batch := []domain.Transaction{
		txn(14, "A", "-1.00"), txn(15, "B", "-2.00"), txn(16, "C", "-3.00"),
	}

	_, err := Filter(context.Background(), checker, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, checker.calls)
}

func TestFilter_EmptyBatchSkipsQuery(t *testing.T) {
	checker := &fakeChecker{}
	part, err := Filter(context.Background(), checker, nil)
	require.NoError(t, err)
	assert.Empty(t, part.Insert)
	assert.Empty(t, part.Duplicates)
	assert.Equal(t, 0, checker.calls)
}

func TestFilter_CheckerError(t *testing.T) {
	sentinel := errors.New("store down")
	checker := &fakeChecker{err: sentinel}

	_, err := Filter(context.Background(), checker, []domain.Transaction{txn(14, "A", "-1.00")})
	assert.ErrorIs(t, err, sentinel)
}
