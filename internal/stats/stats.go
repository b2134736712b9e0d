// Package stats derives per-pair summaries from a sample series.
package stats

import (
	"github.com/shopspring/decimal"

	"bpi-collector/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// PriceStatistics summarises one pair over a series.
type PriceStatistics struct {
	Pair         string
	Min          decimal.Decimal
	Max          decimal.Decimal
	Current      decimal.Decimal
	First        decimal.Decimal
	ChangePct    decimal.Decimal
	Observations int
}

// Empty reports whether no sample carried the pair.
func (p PriceStatistics) Empty() bool {
	return p.Observations == 0
}

// Extract computes statistics for pair, skipping samples that lack it.
// A pair with no observations yields an all-zero record.
func Extract(series storage.Series, pair string) PriceStatistics {
	out := PriceStatistics{Pair: pair}

	for _, sample := range series {
		price, ok := sample.Price(pair)
		if !ok {
			continue
		}
		if out.Observations == 0 {
			out.Min, out.Max, out.First = price, price, price
		} else {
			out.Min = decimal.Min(out.Min, price)
			out.Max = decimal.Max(out.Max, price)
		}
		out.Current = price
		out.Observations++
	}

	if out.Observations > 0 && !out.First.IsZero() {
		out.ChangePct = out.Current.Sub(out.First).Div(out.First).Mul(hundred)
	}
	return out
}

// ExtractAll returns statistics for every pair of the series' first sample.
func ExtractAll(series storage.Series) []PriceStatistics {
	pairs := series.Pairs()
	out := make([]PriceStatistics, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, Extract(series, pair))
	}
	return out
}

// Direction classifies a change as up, down or flat.
func Direction(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}
