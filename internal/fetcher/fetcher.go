package fetcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNoPrices is returned when no configured pair could be priced.
var ErrNoPrices = errors.New("fetcher: no prices retrieved")

// PriceSource retrieves the current spot price of a currency pair.
type PriceSource interface {
	FetchPrice(ctx context.Context, pair string) (decimal.Decimal, error)
}

// FetchAll prices every pair in order. Pairs that fail are logged and left out
// of the result; ErrNoPrices is returned only when all of them fail.
func FetchAll(ctx context.Context, src PriceSource, pairs []string, logger zerolog.Logger) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return prices, err
		}
		price, err := src.FetchPrice(ctx, pair)
		if err != nil {
			logger.Warn().Err(err).Str("pair", pair).Msg("price fetch failed")
			continue
		}
		prices[pair] = price
	}
	if len(prices) == 0 {
		return prices, ErrNoPrices
	}
	return prices, nil
}
