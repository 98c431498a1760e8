package models

import "github.com/shopspring/decimal"

// NewDecimal creates decimal from float64
func NewDecimal(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// NewDecimalFromString creates decimal from string, zero on parse failure
func NewDecimalFromString(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ToFloat64 safely converts decimal to float64
func ToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Float64Ptr returns a pointer to v, for nullable analytics columns
func Float64Ptr(v float64) *float64 {
	return &v
}
