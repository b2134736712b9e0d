package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func prices(kv ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = decimal.RequireFromString(kv[i+1])
	}
	return out
}

func TestSampleStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "samples.json")
	store := NewSampleStore(path, testLogger())

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	want := []Sample{
		NewSample(base, prices("BTC-USD", "64000.12", "ETH-USD", "3100.5")),
		NewSample(base.Add(time.Minute), prices("BTC-USD", "64010")),
	}
	for _, s := range want {
		if err := store.Append(s); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Fatalf("sample %d timestamp: want %s got %s", i, want[i].Timestamp, got[i].Timestamp)
		}
		for pair, p := range want[i].Prices {
			if !got[i].Prices[pair].Equal(p) {
				t.Fatalf("sample %d %s: want %s got %s", i, pair, p, got[i].Prices[pair])
			}
		}
	}

	again, err := store.ReadAll()
	if err != nil || len(again) != len(got) {
		t.Fatalf("ReadAll should be idempotent: %v %d", err, len(again))
	}
}

func TestSampleStoreMissingFile(t *testing.T) {
	store := NewSampleStore(filepath.Join(t.TempDir(), "none.json"), testLogger())
	series, err := store.ReadAll()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if !series.Empty() {
		t.Fatalf("expected empty series, got %d", len(series))
	}
}

func TestSampleStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewSampleStore(path, testLogger())

	if _, err := store.ReadAll(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	if err := store.Append(NewSample(time.Now(), prices("BTC-USD", "1"))); err != nil {
		t.Fatalf("append over corrupt file: %v", err)
	}
	series, err := store.ReadAll()
	if err != nil {
		t.Fatalf("read after recovery: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("expected fresh series of 1, got %d", len(series))
	}
}

func TestSampleJSONShape(t *testing.T) {
	s := NewSample(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), prices("BTC-USD", "42000.50"))
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, `"ts":"2024-01-02T03:04:05Z"`) {
		t.Fatalf("unexpected ts encoding: %s", got)
	}
	if !strings.Contains(got, `"BTC-USD":42000.5`) {
		t.Fatalf("prices should be JSON numbers: %s", got)
	}
}

func TestSampleDecodeLegacyValues(t *testing.T) {
	raw := `[{"ts":"2024-01-02T03:04:05.123456","prices":{"BTC-USD":"100.5","ETH-USD":null,"SOL-USD":20}}]`
	path := filepath.Join(t.TempDir(), "samples.json")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	series, err := ReadSeriesFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := series[0]
	if s.Timestamp.Location() != time.UTC || s.Timestamp.Hour() != 3 {
		t.Fatalf("naive timestamp should be read as UTC: %s", s.Timestamp)
	}
	if _, ok := s.Price("ETH-USD"); ok {
		t.Fatal("null price should be dropped")
	}
	if p, _ := s.Price("BTC-USD"); !p.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("quoted price not parsed: %s", p)
	}
	if p, _ := s.Price("SOL-USD"); !p.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("numeric price not parsed: %s", p)
	}
}

func TestSeriesHelpers(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := Series{
		NewSample(base, prices("ETH-USD", "1", "BTC-USD", "2")),
		NewSample(base.Add(90*time.Second), prices("BTC-USD", "3")),
	}
	pairs := series.Pairs()
	if len(pairs) != 2 || pairs[0] != "BTC-USD" || pairs[1] != "ETH-USD" {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
	if series.Span() != 90*time.Second {
		t.Fatalf("unexpected span: %s", series.Span())
	}
	if Series(nil).Pairs() != nil {
		t.Fatal("empty series has no pairs")
	}
}

func TestLatestRun(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := LatestRun(dir); err != nil || ok {
		t.Fatalf("empty dir should hold no run, got ok=%v err=%v", ok, err)
	}

	for _, name := range []string{
		"bpi_data_20240701T100000Z.json",
		"bpi_data_20240702T090000Z.json",
		"bpi_graph_20240702T090000Z.png",
		"email_status.json",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	run, ok, err := LatestRun(dir)
	if err != nil || !ok {
		t.Fatalf("expected a run, got ok=%v err=%v", ok, err)
	}
	if run.Stamp != "20240702T090000Z" {
		t.Fatalf("unexpected stamp %q", run.Stamp)
	}
	if run.Graph != filepath.Join(dir, "bpi_graph_20240702T090000Z.png") {
		t.Fatalf("unexpected graph path %q", run.Graph)
	}
}

func TestGraphFor(t *testing.T) {
	if got := GraphFor(filepath.Join("data", "bpi_data_20240701T100000Z.json")); got != filepath.Join("data", "bpi_graph_20240701T100000Z.png") {
		t.Fatalf("unexpected graph path %q", got)
	}
	if got := GraphFor("custom.json"); got != "" {
		t.Fatalf("expected no graph for a custom name, got %q", got)
	}
}
