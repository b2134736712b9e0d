package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Sample is one tick's worth of spot prices keyed by currency pair.
type Sample struct {
	Timestamp time.Time
	Prices    map[string]decimal.Decimal
}

// NewSample stamps prices with t in UTC.
func NewSample(t time.Time, prices map[string]decimal.Decimal) Sample {
	return Sample{Timestamp: t.UTC(), Prices: prices}
}

// Price returns the price for pair and whether the sample carries it.
func (s Sample) Price(pair string) (decimal.Decimal, bool) {
	p, ok := s.Prices[pair]
	return p, ok
}

type sampleJSON struct {
	TS     string                     `json:"ts"`
	Prices map[string]json.RawMessage `json:"prices"`
}

// naive layouts are accepted on read and interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp reads an ISO-8601 timestamp, defaulting to UTC when no zone is given.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", value)
}

// MarshalJSON writes {"ts": RFC3339, "prices": {pair: number}}.
func (s Sample) MarshalJSON() ([]byte, error) {
	out := sampleJSON{
		TS:     s.Timestamp.UTC().Format(time.RFC3339Nano),
		Prices: make(map[string]json.RawMessage, len(s.Prices)),
	}
	for pair, price := range s.Prices {
		out.Prices[pair] = json.RawMessage(price.String())
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts numeric or quoted prices and drops null ones.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var in sampleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := ParseTimestamp(in.TS)
	if err != nil {
		return err
	}

	prices := make(map[string]decimal.Decimal, len(in.Prices))
	for pair, raw := range in.Prices {
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("price %s: %w", pair, err)
		}
		prices[pair] = d
	}

	s.Timestamp = ts
	s.Prices = prices
	return nil
}

// Series is an ordered run of samples, oldest first.
type Series []Sample

// Empty reports whether the series has no samples.
func (s Series) Empty() bool { return len(s) == 0 }

// Pairs lists the pairs of the first sample in sorted order.
func (s Series) Pairs() []string {
	if len(s) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(s[0].Prices))
	for pair := range s[0].Prices {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}

// First returns the oldest sample.
func (s Series) First() (Sample, bool) {
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[0], true
}

// Last returns the newest sample.
func (s Series) Last() (Sample, bool) {
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[len(s)-1], true
}

// Span is the time between the first and last sample.
func (s Series) Span() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].Timestamp.Sub(s[0].Timestamp)
}

// DeliveryRecord is one entry of the report delivery history file.
type DeliveryRecord struct {
	Timestamp     string `json:"timestamp"`
	FormattedTime string `json:"formatted_time,omitempty"`
	Success       bool   `json:"success"`
	Subject       string `json:"subject"`
	Recipients    int    `json:"recipients"`
	SentAt        string `json:"sent_at"`
}

// ArchivedSample is a sample row read back from the Postgres archive.
type ArchivedSample struct {
	RunID     string
	Timestamp time.Time
	Pair      string
	Price     decimal.Decimal
	CreatedAt time.Time
}
