package shared

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Quantity is a non-negative decimal volume with two fractional digits,
// stored as hundredths.
type Quantity int64

// ParseQuantity accepts plain decimals such as "10", "2.5" or "0.25".
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, NewValidationError("vol", "empty quantity")
	}
	if strings.HasPrefix(s, "-") {
		return 0, NewValidationError("vol", "negative quantity %q", s)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, NewValidationError("vol", "malformed quantity %q", s)
	}
	var f int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, NewValidationError("vol", "at most two decimals allowed in %q", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || f < 0 {
			return 0, NewValidationError("vol", "malformed quantity %q", s)
		}
	}
	return Quantity(w*100 + f), nil
}

// QuantityFromFloat rounds v to two decimals.
func QuantityFromFloat(v float64) Quantity {
	if v < 0 {
		return Quantity(v*100 - 0.5)
	}
	return Quantity(v*100 + 0.5)
}

// Float returns the value as float64.
func (q Quantity) Float() float64 {
	return float64(q) / 100
}

func (q Quantity) String() string {
	whole := int64(q) / 100
	frac := int64(q) % 100
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	s := fmt.Sprintf("%d.%02d", whole, frac)
	return strings.TrimRight(s, "0")
}

// MarshalJSON encodes as a JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts numbers and numeric strings.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = json.Number(s)
	}
	parsed, err := ParseQuantity(raw.String())
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
