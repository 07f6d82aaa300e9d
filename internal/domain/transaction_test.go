package domain

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/spendflow/spendflow/internal/bank"
)

func baseTxn() Transaction {
	return Transaction{
		Date:        civil.Date{Year: 2025, Month: 3, Day: 14},
		Description: "GRAB* FOOD SG",
		Amount:      decimal.RequireFromString("-15.80"),
		Bank:        bank.StandardChartered,
	}
}

func TestIdentityKey_Stable(t *testing.T) {
	a := baseTxn()
	b := baseTxn()
	b.Line = 42 // line must not participate in identity

	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
	assert.Equal(t, a.IdentityKey(), a.IdentityKey())
	assert.Len(t, a.IdentityKey(), 64)
}

func TestIdentityKey_ScaleInsensitive(t *testing.T) {
	a := baseTxn()
	b := baseTxn()
	b.Amount = decimal.RequireFromString("-15.8")

	// -15.8 and -15.80 are the same amount and must dedupe together.
	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
}

func TestIdentityKey_FieldSensitive(t *testing.T) {
	base := baseTxn()

	tests := []struct {
		name   string
		mutate func(*Transaction)
	}{
		{"date", func(x *Transaction) { x.Date.Day = 15 }},
		{"description", func(x *Transaction) { x.Description = "GRAB* CAR SG" }},
		{"amount", func(x *Transaction) { x.Amount = decimal.RequireFromString("-15.81") }},
		{"bank", func(x *Transaction) { x.Bank = bank.DBSAltitude }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := baseTxn()
			tt.mutate(&other)
			assert.NotEqual(t, base.IdentityKey(), other.IdentityKey())
		})
	}
}
