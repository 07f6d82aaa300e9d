package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/spendflow/spendflow/internal/bank"
)

// Transaction is the canonical, bank-agnostic transaction record produced by
// normalization. Amounts are signed: expense negative, income positive.
type Transaction struct {
	Date        civil.Date
	Description string
	Amount      decimal.Decimal
	Bank        bank.ID

	// Line is the 1-based line of the source file this row came from.
	// Carried for diagnostics only; it does not participate in identity.
	Line int
}

// IdentityKey derives the deduplication key for this transaction. It is a
// pure function of (date, description, amount, bank): equal fields always
// yield equal keys across runs, and the key never depends on row order or
// processing time.
func (t Transaction) IdentityKey() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s",
		t.Date.String(),
		t.Description,
		t.Amount.StringFixed(2),
		t.Bank,
	)))
	return hex.EncodeToString(sum[:])
}

// IsDebit reports whether this transaction is an expense.
func (t Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}
