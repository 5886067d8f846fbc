// Package money computes invoice amounts.
//
// # Overview
//
// All amounts are shopspring decimals. Tax is derived from the net amount and a
// percentage rate and rounded half up to the currency's minor-unit precision:
//
//	amounts, err := money.Calculate(decimal.RequireFromString("199.99"), decimal.NewFromInt(20), "TRY")
//	// amounts.Net = 199.99, amounts.Tax = 40.00, amounts.Total = 239.99
//
// Every function in this package is pure and safe for concurrent use.
package money
