package membership

import "github.com/shopspring/decimal"

// Amounts are persisted as NUMERIC with two decimal places. Rounding here
// keeps the in-memory value identical to what the database stores.

// RoundCents rounds an amount half away from zero to whole cents.
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// AddCents adds two amounts in decimal and rounds the sum to cents.
func AddCents(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}
