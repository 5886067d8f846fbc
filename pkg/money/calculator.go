package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrValidation is the sentinel every ValidationError unwraps to
var ErrValidation = errors.New("validation error")

// ValidationError reports a rejected input value
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrValidation)
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var (
	hundred = decimal.NewFromInt(100)

	// minorUnits lists currencies whose precision differs from two decimal places
	minorUnits = map[string]int32{
		"JPY": 0,
		"KRW": 0,
		"BHD": 3,
		"KWD": 3,
		"OMR": 3,
	}
)

// DefaultMinorUnits is the precision used for currencies not listed explicitly
const DefaultMinorUnits int32 = 2

// MinorUnits returns the number of decimal places used by a currency
func MinorUnits(currency string) int32 {
	if units, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return units
	}
	return DefaultMinorUnits
}

// Amounts holds the derived monetary values of an invoice or line
type Amounts struct {
	Net   decimal.Decimal `json:"net_amount"`
	Tax   decimal.Decimal `json:"tax_amount"`
	Total decimal.Decimal `json:"total_amount"`
}

// Round rounds half up to the currency's precision.
// decimal.Round rounds half away from zero, which equals half up for the
// non-negative amounts accepted here.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// ValidateTaxRate rejects rates outside [0, 100]
func ValidateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return NewValidationError("tax_rate", "must be between 0 and 100")
	}
	return nil
}

// Calculate derives tax and total from a net amount:
// tax = round(net * rate / 100), total = net + tax.
func Calculate(net, taxRate decimal.Decimal, currency string) (Amounts, error) {
	if net.IsNegative() {
		return Amounts{}, NewValidationError("net_amount", "must not be negative")
	}
	if err := ValidateTaxRate(taxRate); err != nil {
		return Amounts{}, err
	}

	net = Round(net, currency)
	tax := Round(net.Mul(taxRate).Div(hundred), currency)

	return Amounts{
		Net:   net,
		Tax:   tax,
		Total: net.Add(tax),
	}, nil
}

// LineNet returns round(unitPrice * quantity)
func LineNet(unitPrice, quantity decimal.Decimal, currency string) (decimal.Decimal, error) {
	if unitPrice.IsNegative() {
		return decimal.Zero, NewValidationError("unit_price", "must not be negative")
	}
	if !quantity.IsPositive() {
		return decimal.Zero, NewValidationError("quantity", "must be positive")
	}
	return Round(unitPrice.Mul(quantity), currency), nil
}

// CalculateLine prices a single line: net from unit price and quantity, then tax and total
func CalculateLine(unitPrice, quantity, taxRate decimal.Decimal, currency string) (Amounts, error) {
	net, err := LineNet(unitPrice, quantity, currency)
	if err != nil {
		return Amounts{}, err
	}
	return Calculate(net, taxRate, currency)
}
