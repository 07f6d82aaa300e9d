package bank

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrUnrecognizedFormat means no registered signature matched the file.
	ErrUnrecognizedFormat = errors.New("unrecognized statement format")

	// ErrAmbiguousFormat means more than one signature matched. Detection
	// refuses to guess between institutions.
	ErrAmbiguousFormat = errors.New("ambiguous statement format")
)

// Registry holds the signatures of all supported institutions.
type Registry struct {
	sigs map[ID]Signature
}

// NewRegistry creates an empty signature registry.
func NewRegistry() *Registry {
	return &Registry{sigs: make(map[ID]Signature)}
}

// Register adds a signature. Panics on duplicate bank id.
func (r *Registry) Register(sig Signature) {
	if _, ok := r.sigs[sig.Bank]; ok {
		panic("duplicate bank signature: " + string(sig.Bank))
	}
	r.sigs[sig.Bank] = sig
}

// Get returns the signature registered for id.
func (r *Registry) Get(id ID) (Signature, bool) {
	sig, ok := r.sigs[id]
	return sig, ok
}

// Detect classifies a raw header row against the registered signatures.
// Exactly one signature must match; zero matches yield ErrUnrecognizedFormat
// and multiple matches yield ErrAmbiguousFormat. Detect has no side effects.
func (r *Registry) Detect(header []string) (Signature, error) {
	var matched []Signature
	for _, sig := range r.sigs {
		if sig.Matches(header) {
			matched = append(matched, sig)
		}
	}
	switch len(matched) {
	case 0:
		return Signature{}, fmt.Errorf("%w: header %q", ErrUnrecognizedFormat, strings.Join(header, ","))
	case 1:
		return matched[0], nil
	default:
		sort.Slice(matched, func(i, j int) bool { return matched[i].Bank < matched[j].Bank })
		ids := make([]string, len(matched))
		for i, sig := range matched {
			ids[i] = string(sig.Bank)
		}
		return Signature{}, fmt.Errorf("%w: matches %s", ErrAmbiguousFormat, strings.Join(ids, ", "))
	}
}

// Trailing reference codes some processors append to card descriptions,
// e.g. "GRAB* FOOD SG REF 29381736" or "NTUC FP-BUKIT TIMAH 8837261003".
var trailingRefPattern = regexp.MustCompile(`(?i)\s+(?:ref\s*:?\s*\w+|\d{6,})$`)

// DefaultRegistry returns a registry with all built-in signatures.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Signature{
		Bank:              StandardChartered,
		Banner:            "SIMPLY CASH CREDIT CARD",
		RowColumns:        []string{"transaction_date", "description", "foreign_amount", "amount", "amount_alt"},
		DateColumn:        "transaction_date",
		DateLayout:        "02/01/2006",
		AmountRule:        AmountDebitPositive,
		AmountColumn:      "amount",
		ForeignColumn:     "foreign_amount",
		AltAmountColumn:   "amount_alt",
		DescriptionColumn: "description",
		ReferencePattern:  trailingRefPattern,
	})

	r.Register(Signature{
		Bank:              UOBKrisflyer,
		Banner:            "UOB KRISFLYER CREDIT CARD",
		RowColumns:        []string{"transaction_date", "description", "amount"},
		DateColumn:        "transaction_date",
		DateLayout:        "02/01/2006",
		AmountRule:        AmountDebitPositive,
		AmountColumn:      "amount",
		DescriptionColumn: "description",
		ReferencePattern:  trailingRefPattern,
	})

	r.Register(Signature{
		Bank:              DBSAltitude,
		Banner:            "DBS ALTITUDE CREDIT CARD",
		RowColumns:        []string{"transaction_date", "description", "amount"},
		DateColumn:        "transaction_date",
		DateLayout:        "02/01/2006",
		AmountRule:        AmountDebitPositive,
		AmountColumn:      "amount",
		DescriptionColumn: "description",
		ReferencePattern:  trailingRefPattern,
	})

	r.Register(Signature{
		Bank:              OCBC360,
		Columns:           []string{"Date", "Description", "Debit", "Credit"},
		DateColumn:        "Date",
		DateLayout:        "2006-01-02",
		AmountRule:        AmountDebitCredit,
		DebitColumn:       "Debit",
		CreditColumn:      "Credit",
		DescriptionColumn: "Description",
	})

	r.Register(Signature{
		Bank:              CitiRewards,
		Columns:           []string{"Posted Date", "Description", "Amount"},
		DateColumn:        "Posted Date",
		DateLayout:        "2006-01-02",
		AmountRule:        AmountSigned,
		AmountColumn:      "Amount",
		DescriptionColumn: "Description",
	})

	return r
}
