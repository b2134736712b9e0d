package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultSpotTemplate = "https://api.coinbase.com/v2/prices/{pair}/spot"
	pairPlaceholder     = "{pair}"
	maxBodyBytes        = 1 << 20
)

// SpotOptions parameterise the spot quote fetcher.
type SpotOptions struct {
	URLTemplate string
	Timeout     time.Duration
	UserAgent   string
}

// Spot fetches spot prices from a Coinbase-style REST endpoint.
type Spot struct {
	opts     SpotOptions
	logger   zerolog.Logger
	client   *http.Client
	template string
}

// NewSpot constructs a spot fetcher.
func NewSpot(opts SpotOptions, logger zerolog.Logger) *Spot {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	template := strings.TrimSpace(opts.URLTemplate)
	if template == "" {
		template = defaultSpotTemplate
	}

	return &Spot{
		opts:     opts,
		logger:   logger.With().Str("component", "spot_fetcher").Logger(),
		client:   &http.Client{Timeout: timeout},
		template: template,
	}
}

// FetchPrice retrieves the spot price of pair, e.g. BTC-USD.
func (s *Spot) FetchPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return decimal.Decimal{}, errors.New("pair required")
	}

	endpoint := strings.ReplaceAll(s.template, pairPlaceholder, url.PathEscape(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("request %s: %w", pair, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var quote spotResponse
	if err := json.Unmarshal(payload, &quote); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode spot response: %w", err)
	}
	if quote.Data.Amount == "" {
		return decimal.Decimal{}, errors.New("spot response missing data.amount")
	}

	price, err := decimal.NewFromString(quote.Data.Amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive price %s", price)
	}

	s.logger.Debug().
		Str("pair", pair).
		Str("price", price.String()).
		Dur("latency", time.Since(start)).
		Msg("spot price fetched")
	return price, nil
}

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

type errorResponse struct {
	Errors []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"errors"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if len(apiErr.Errors) > 0 {
			first := apiErr.Errors[0]
			if first.Message != "" {
				return fmt.Errorf("quote api error (%d): %s", status, first.Message)
			}
			if first.ID != "" {
				return fmt.Errorf("quote api error (%d): %s", status, first.ID)
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("quote api error (%d): %s", status, apiErr.Message)
		}
	}
	if body := strings.TrimSpace(string(payload)); body != "" {
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("quote api error (%d): %s", status, body)
	}
	return fmt.Errorf("quote api error (%d)", status)
}

var _ PriceSource = (*Spot)(nil)
