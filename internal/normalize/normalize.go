// Package normalize maps raw statement rows into canonical transactions.
//
// Normalization is row-isolated: a row that cannot be parsed yields a
// RowError and is skipped, the rest of the batch continues. Output order
// always matches input order.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/spendflow/spendflow/internal/bank"
	"github.com/spendflow/spendflow/internal/domain"
)

// RawRow is an ordered column-name → value mapping read from one CSV line,
// tagged with the batch's detected bank. Immutable once built.
type RawRow struct {
	Bank    bank.ID
	Columns []string
	Values  map[string]string
	Line    int
}

// Get returns the value of the named column. Column names are matched
// case-insensitively, the way headers are matched during detection.
func (r RawRow) Get(col string) (string, bool) {
	v, ok := r.Values[columnKey(col)]
	return v, ok
}

func columnKey(col string) string {
	return strings.ToUpper(strings.TrimSpace(col))
}

// transactionLinePattern recognizes transaction-bearing lines in banner-style
// credit-card exports, which interleave headers and footers with the data.
var transactionLinePattern = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)

// BuildRows converts parsed CSV records into RawRows according to the
// signature. Headered exports are mapped by header name; banner exports are
// filtered to date-bearing lines and mapped positionally.
func BuildRows(sig bank.Signature, records [][]string) []RawRow {
	if len(records) == 0 {
		return nil
	}

	var rows []RawRow
	if sig.Headered() {
		header := records[0]
		for i, rec := range records[1:] {
			row := RawRow{
				Bank:    sig.Bank,
				Columns: header,
				Values:  make(map[string]string, len(rec)),
				Line:    i + 2,
			}
			for j, cell := range rec {
				if j < len(header) {
					row.Values[columnKey(header[j])] = cell
				}
			}
			rows = append(rows, row)
		}
		return rows
	}

	for i, rec := range records {
		if !transactionLinePattern.MatchString(strings.Join(rec, ",")) {
			continue
		}
		row := RawRow{
			Bank:    sig.Bank,
			Columns: sig.RowColumns,
			Values:  make(map[string]string, len(rec)),
			Line:    i + 1,
		}
		for j, cell := range rec {
			if j < len(sig.RowColumns) {
				row.Values[columnKey(sig.RowColumns[j])] = cell
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// RowError records why a single row could not be normalized.
type RowError struct {
	Line  int
	Field string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: field %q: %v", e.Line, e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var errMissingField = fmt.Errorf("missing required field")

// Statement normalizes a sequence of raw rows into canonical transactions.
// Rows that fail to parse are reported as RowErrors and skipped; the returned
// transactions preserve input order.
func Statement(sig bank.Signature, rows []RawRow) ([]domain.Transaction, []*RowError) {
	var (
		txns    []domain.Transaction
		rowErrs []*RowError
	)
	for _, row := range rows {
		txn, rerr := normalizeRow(sig, row)
		if rerr != nil {
			rowErrs = append(rowErrs, rerr)
			continue
		}
		txns = append(txns, txn)
	}
	return txns, rowErrs
}

func normalizeRow(sig bank.Signature, row RawRow) (domain.Transaction, *RowError) {
	date, rerr := parseDate(sig, row)
	if rerr != nil {
		return domain.Transaction{}, rerr
	}

	raw, ok := row.Get(sig.DescriptionColumn)
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.Transaction{}, &RowError{Line: row.Line, Field: sig.DescriptionColumn, Err: errMissingField}
	}
	desc := CleanDescription(sig, raw)

	amount, rerr := parseAmount(sig, row)
	if rerr != nil {
		return domain.Transaction{}, rerr
	}

	return domain.Transaction{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Bank:        sig.Bank,
		Line:        row.Line,
	}, nil
}

// dateJunkPattern strips tabs and stray markers some exports glue onto the
// date cell before parsing.
var dateJunkPattern = regexp.MustCompile(`[^0-9/\-. ]`)

func parseDate(sig bank.Signature, row RawRow) (civil.Date, *RowError) {
	raw, ok := row.Get(sig.DateColumn)
	if !ok || strings.TrimSpace(raw) == "" {
		return civil.Date{}, &RowError{Line: row.Line, Field: sig.DateColumn, Err: errMissingField}
	}
	cleaned := strings.TrimSpace(dateJunkPattern.ReplaceAllString(raw, ""))
	parsed, err := time.Parse(sig.DateLayout, cleaned)
	if err != nil {
		return civil.Date{}, &RowError{Line: row.Line, Field: sig.DateColumn, Err: err}
	}
	return civil.DateOf(parsed), nil
}

func parseAmount(sig bank.Signature, row RawRow) (decimal.Decimal, *RowError) {
	switch sig.AmountRule {
	case bank.AmountDebitCredit:
		debitRaw, _ := row.Get(sig.DebitColumn)
		creditRaw, _ := row.Get(sig.CreditColumn)
		if strings.TrimSpace(debitRaw) == "" && strings.TrimSpace(creditRaw) == "" {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: sig.DebitColumn, Err: errMissingField}
		}
		debit, err := parseCell(debitRaw)
		if err != nil {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: sig.DebitColumn, Err: err}
		}
		credit, err := parseCell(creditRaw)
		if err != nil {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: sig.CreditColumn, Err: err}
		}
		return credit.Sub(debit), nil

	case bank.AmountDebitPositive:
		col := sig.AmountColumn
		// Rows charged in a foreign currency carry the local amount in a
		// trailing column.
		if sig.ForeignColumn != "" && sig.AltAmountColumn != "" {
			foreign, _ := row.Get(sig.ForeignColumn)
			alt, _ := row.Get(sig.AltAmountColumn)
			if strings.TrimSpace(foreign) != "" && strings.TrimSpace(alt) != "" {
				col = sig.AltAmountColumn
			}
		}
		raw, ok := row.Get(col)
		if !ok || strings.TrimSpace(raw) == "" {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: sig.AmountColumn, Err: errMissingField}
		}
		credit := creditMarkerPattern.MatchString(raw)
		amount, err := parseCell(raw)
		if err != nil {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: col, Err: err}
		}
		// Charges are reported positive; refunds carry a CR marker.
		if credit {
			return amount, nil
		}
		return amount.Neg(), nil

	default: // bank.AmountSigned
		raw, ok := row.Get(sig.AmountColumn)
		if !ok || strings.TrimSpace(raw) == "" {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: sig.AmountColumn, Err: errMissingField}
		}
		amount, err := parseCell(raw)
		if err != nil {
			return decimal.Decimal{}, &RowError{Line: row.Line, Field: sig.AmountColumn, Err: err}
		}
		return amount, nil
	}
}

var (
	creditMarkerPattern = regexp.MustCompile(`(?i)\bCR\b`)
	amountJunkPattern   = regexp.MustCompile(`(?i)\b(?:SGD|DR|CR)\b|,`)
)

// parseCell parses one amount cell, tolerating currency and direction markers
// ("125.40 SGD DR") and thousands separators. An empty cell parses as zero.
func parseCell(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(amountJunkPattern.ReplaceAllString(raw, ""))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// CleanDescription trims the description, collapses internal whitespace runs
// to single spaces, and strips the bank's reference prefix/suffix. The result
// is what categorization and identity hashing see.
func CleanDescription(sig bank.Signature, raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if sig.ReferencePattern != nil {
		s = sig.ReferencePattern.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
