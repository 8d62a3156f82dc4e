package shared

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DayClass selects the ordinary or special-day variant of a month's layout.
type DayClass string

const (
	DayClassOrdinary DayClass = "ordinary"
	DayClassSpecial  DayClass = "special"
)

// Valid reports whether the day class is known.
func (c DayClass) Valid() bool {
	return c == DayClassOrdinary || c == DayClassSpecial
}

// DayClasses lists every day class in display order.
func DayClasses() []DayClass {
	return []DayClass{DayClassOrdinary, DayClassSpecial}
}

// ColumnKey addresses a plan column: the waste type plus its occurrence index
// within the same day.
type ColumnKey struct {
	WasteType string `json:"waste_type"`
	Sequence  int    `json:"type_sequence"`
}

// NewColumnKey normalises the waste type and validates the key.
func NewColumnKey(wasteType string, sequence int) (ColumnKey, error) {
	key := ColumnKey{WasteType: NormalizeWasteType(wasteType), Sequence: sequence}
	if err := key.Validate(); err != nil {
		return ColumnKey{}, err
	}
	return key, nil
}

// NormalizeWasteType folds width variants (NFKC) and surrounding space so the
// same category typed two ways maps to one column.
func NormalizeWasteType(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// Normalized returns the key with its waste type folded.
func (k ColumnKey) Normalized() ColumnKey {
	return ColumnKey{WasteType: NormalizeWasteType(k.WasteType), Sequence: k.Sequence}
}

// Validate checks the key is addressable.
func (k ColumnKey) Validate() error {
	if k.WasteType == "" {
		return NewValidationError("waste_type", "required")
	}
	if k.Sequence < 1 {
		return NewValidationError("type_sequence", "must be >= 1, got %d", k.Sequence)
	}
	return nil
}

// Less orders keys by waste type then sequence.
func (k ColumnKey) Less(other ColumnKey) bool {
	if k.WasteType != other.WasteType {
		return k.WasteType < other.WasteType
	}
	return k.Sequence < other.Sequence
}

func (k ColumnKey) String() string {
	return fmt.Sprintf("%s#%d", k.WasteType, k.Sequence)
}

// ParseColumnKey reverses String.
func ParseColumnKey(s string) (ColumnKey, error) {
	idx := strings.LastIndex(s, "#")
	if idx <= 0 {
		return ColumnKey{}, NewValidationError("column", "expected <waste_type>#<sequence>, got %q", s)
	}
	seq, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return ColumnKey{}, NewValidationError("column", "bad sequence in %q", s)
	}
	return NewColumnKey(s[:idx], seq)
}
