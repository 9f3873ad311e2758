package billing

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var hundred = decimal.NewFromInt(100)

// Present rounds an amount to two decimal places for display or the wire.
// Computations must keep full precision and call this only at the edge.
func Present(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinorUnits converts a major-unit amount to the gateway's minor units
// (paise, cents), rounding to the nearest unit.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FormatMoney renders the amount with grouping separators and the ISO code,
// e.g. "INR 12,500.00".
func FormatMoney(code string, d decimal.Decimal) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	p := message.NewPrinter(language.English)
	amount := p.Sprintf("%.2f", Present(d).InexactFloat64())
	if unit, err := currency.ParseISO(code); err == nil {
		return unit.String() + " " + amount
	}
	return amount
}
