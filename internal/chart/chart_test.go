package chart

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bpi-collector/internal/storage"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func makeSeries(n int) storage.Series {
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	out := make(storage.Series, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, storage.NewSample(base.Add(time.Duration(i)*time.Minute), map[string]decimal.Decimal{
			"BTC-USD": decimal.NewFromInt(int64(60000 + i*15)),
			"ETH-USD": decimal.NewFromInt(int64(3000 - i)),
		}))
	}
	return out
}

func TestRenderWritesPNG(t *testing.T) {
	for _, n := range []int{1, 2, 20, 21, 60} {
		path := filepath.Join(t.TempDir(), "out", "chart.png")
		r := New(Options{Path: path, Location: time.UTC}, zerolog.Nop())

		got, err := r.Render(makeSeries(n))
		if err != nil {
			t.Fatalf("n=%d: render: %v", n, err)
		}
		if got != path {
			t.Fatalf("n=%d: expected path %s, got %s", n, path, got)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("n=%d: read: %v", n, err)
		}
		if !bytes.HasPrefix(data, pngMagic) {
			t.Fatalf("n=%d: output is not a PNG", n)
		}
	}
}

func TestRenderEmptySeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	r := New(Options{Path: path}, zerolog.Nop())

	got, err := r.Render(nil)
	if err != nil {
		t.Fatalf("empty series should not error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no file should be written for an empty series")
	}
}

func TestRenderFlatSeries(t *testing.T) {
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	series := storage.Series{
		storage.NewSample(base, map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(100)}),
		storage.NewSample(base.Add(time.Minute), map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(100)}),
	}
	var buf bytes.Buffer
	if err := WritePNG(&buf, series, Options{Width: 400, Height: 200}); err != nil {
		t.Fatalf("flat series should render: %v", err)
	}
}

func TestTimeTicks(t *testing.T) {
	for _, n := range []int{2, 5, 8, 9, 60, 61} {
		series := makeSeries(n)
		ticks := TimeTicks(series, time.UTC)
		if len(ticks) > MaxTicks {
			t.Fatalf("n=%d: %d ticks exceeds cap", n, len(ticks))
		}
		if ticks[0].Label != "09:00" {
			t.Fatalf("n=%d: first tick should be first sample, got %s", n, ticks[0].Label)
		}
		last := series[n-1].Timestamp.Format("15:04")
		if ticks[len(ticks)-1].Label != last {
			t.Fatalf("n=%d: last tick should be %s, got %s", n, last, ticks[len(ticks)-1].Label)
		}
		for i := 1; i < len(ticks); i++ {
			if ticks[i].Value <= ticks[i-1].Value {
				t.Fatalf("n=%d: ticks not increasing", n)
			}
		}
	}

	single := TimeTicks(makeSeries(1), time.UTC)
	if len(single) != 3 || single[0].Value >= single[2].Value {
		t.Fatalf("single sample should be padded, got %+v", single)
	}
}

func TestPriceFormatter(t *testing.T) {
	cases := map[float64]string{
		1234567.891: "1,234,567.89",
		64000:       "64,000.00",
		0.5:         "0.50",
	}
	for in, want := range cases {
		got := PriceFormatter(in)
		if got != want {
			t.Fatalf("PriceFormatter(%v) = %q, want %q", in, got, want)
		}
		if strings.ContainsAny(got, "eE") {
			t.Fatalf("scientific notation in %q", got)
		}
	}
}
