package bank

import (
	"regexp"
	"strings"
)

// ID identifies one supported institution's export format.
type ID string

const (
	StandardChartered ID = "sc_simplycash"
	UOBKrisflyer      ID = "uob_krisflyer"
	DBSAltitude       ID = "dbs_altitude"
	OCBC360           ID = "ocbc_360"
	CitiRewards       ID = "citi_rewards"
)

// AmountRule describes how a bank reports transaction amounts.
type AmountRule int

const (
	// AmountSigned means a single column already carries a signed amount
	// (expense negative, income positive).
	AmountSigned AmountRule = iota

	// AmountDebitCredit means separate debit and credit columns;
	// the normalized amount is credit minus debit.
	AmountDebitCredit

	// AmountDebitPositive means charges are reported as positive values
	// (credit-card exports); the normalized amount is negated.
	AmountDebitPositive
)

// Signature is the set of rules identifying one institution's export format:
// how to recognize the file, which columns matter, and how to read them.
//
// Two kinds of exports exist. Headered CSVs carry a normal header row and are
// matched by Columns. Credit-card exports open with a product banner line
// ("SIMPLY CASH CREDIT CARD, ...") and have no header; they are matched by
// Banner and their transaction lines are mapped positionally via RowColumns.
type Signature struct {
	Bank ID

	// Banner is a substring of the first cell of the first line, for
	// banner-style exports. Empty for headered CSVs.
	Banner string

	// Columns are the required header columns, for headered CSVs.
	Columns []string

	// RowColumns names the cells of a banner-style transaction line by
	// position. Ignored for headered CSVs.
	RowColumns []string

	DateColumn string
	DateLayout string

	AmountRule   AmountRule
	AmountColumn string
	DebitColumn  string
	CreditColumn string

	// ForeignColumn and AltAmountColumn handle exports where rows charged in
	// a foreign currency carry the local amount in a trailing column.
	ForeignColumn   string
	AltAmountColumn string

	DescriptionColumn string

	// ReferencePattern matches a bank-specific reference prefix/suffix that
	// is stripped from descriptions during cleaning.
	ReferencePattern *regexp.Regexp
}

// Headered reports whether this signature describes a headered CSV export.
func (s Signature) Headered() bool { return s.Banner == "" }

// Matches reports whether the given header row fits this signature.
// For banner signatures the first cell must contain the banner text;
// for headered signatures every required column must be present.
func (s Signature) Matches(header []string) bool {
	if len(header) == 0 {
		return false
	}
	if s.Banner != "" {
		return strings.Contains(normalizeColumn(header[0]), normalizeColumn(s.Banner))
	}
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[normalizeColumn(col)] = true
	}
	for _, want := range s.Columns {
		if !present[normalizeColumn(want)] {
			return false
		}
	}
	return true
}

func normalizeColumn(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
