package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bpi-collector/internal/storage"
)

type scriptedSource struct {
	calls int
	fail  map[int]bool
}

func (s *scriptedSource) FetchPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	s.calls++
	if s.fail[s.calls] {
		return decimal.Zero, errors.New("quote service unavailable")
	}
	return decimal.NewFromInt(int64(100 + s.calls)), nil
}

type stubChart struct {
	rendered []storage.Series
}

func (c *stubChart) Render(series storage.Series) (string, error) {
	c.rendered = append(c.rendered, series)
	return "chart.png", nil
}

type failingStore struct{}

func (failingStore) Append(storage.Sample) error { return errors.New("disk full") }
func (failingStore) ReadAll() (storage.Series, error) { return nil, errors.New("disk gone") }

func fakeClock() func() time.Time {
	now := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestCollectorSkipsFailedTick(t *testing.T) {
	store := storage.NewSampleStore(filepath.Join(t.TempDir(), "bpi_data.json"), zerolog.Nop())
	source := &scriptedSource{fail: map[int]bool{2: true}}
	chart := &stubChart{}

	var sleeps []time.Duration
	var states []State
	var observed int
	c := New(source, store, chart, Options{
		Samples:  3,
		Interval: 30 * time.Second,
		Pairs:    []string{"BTC-USD"},
		Now:      fakeClock(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
		OnSample: func(ctx context.Context, sample storage.Sample) { observed++ },
		OnState:  func(s State) { states = append(states, s) },
	}, zerolog.Nop())

	if c.State() != StateIdle {
		t.Fatalf("new collector should be idle, got %s", c.State())
	}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Series) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(result.Series))
	}
	if result.Attempted != 3 || result.Failed != 1 {
		t.Fatalf("expected 3 attempts with 1 failure, got %d/%d", result.Attempted, result.Failed)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(sleeps))
	}
	if observed != 2 {
		t.Fatalf("expected hook for 2 stored samples, got %d", observed)
	}
	if len(chart.rendered) != 1 || len(chart.rendered[0]) != 2 {
		t.Fatalf("chart should be rendered once with the full series")
	}
	if result.ChartPath != "chart.png" {
		t.Fatalf("unexpected chart path %q", result.ChartPath)
	}
	if c.State() != StateComplete {
		t.Fatalf("expected complete, got %s", c.State())
	}

	want := []State{StateSampling, StateWaiting, StateSampling, StateWaiting, StateSampling, StateRendering, StateComplete}
	if len(states) != len(want) {
		t.Fatalf("unexpected transitions %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}

	first, _ := result.Series.First()
	if price, _ := first.Price("BTC-USD"); !price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("unexpected first price %s", price)
	}
}

func TestCollectorSingleSampleNeverSleeps(t *testing.T) {
	store := storage.NewSampleStore(filepath.Join(t.TempDir(), "bpi_data.json"), zerolog.Nop())
	slept := false
	c := New(&scriptedSource{}, store, nil, Options{
		Samples:  1,
		Interval: time.Hour,
		Pairs:    []string{"BTC-USD"},
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = true
			return nil
		},
	}, zerolog.Nop())

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if slept {
		t.Fatal("no sleep expected after the last tick")
	}
	if len(result.Series) != 1 || result.ChartPath != "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCollectorStoreFailures(t *testing.T) {
	chart := &stubChart{}
	c := New(&scriptedSource{}, failingStore{}, chart, Options{
		Samples: 2,
		Pairs:   []string{"BTC-USD"},
	}, zerolog.Nop())

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("store failures must not abort the run: %v", err)
	}
	if result.Failed != 2 || !result.Series.Empty() {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(chart.rendered) != 0 {
		t.Fatal("empty series should not be rendered")
	}
	if c.State() != StateComplete {
		t.Fatalf("expected complete, got %s", c.State())
	}
}

func TestCollectorCancelledDuringWait(t *testing.T) {
	store := storage.NewSampleStore(filepath.Join(t.TempDir(), "bpi_data.json"), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	c := New(&scriptedSource{}, store, nil, Options{
		Samples:  5,
		Interval: time.Minute,
		Pairs:    []string{"BTC-USD"},
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return Sleep(ctx, d)
		},
	}, zerolog.Nop())

	result, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Attempted != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", result.Attempted)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestParseSpec(t *testing.T) {
	if _, err := ParseSpec("0 0 * * * *"); err != nil {
		t.Fatalf("hourly spec should parse: %v", err)
	}
	if _, err := ParseSpec("@hourly"); err != nil {
		t.Fatalf("descriptor should parse: %v", err)
	}
	if _, err := ParseSpec("every hour"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDaemonRunOnStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var runs atomic.Int32
	d := NewDaemon("@yearly", time.UTC, zerolog.Nop())
	err := d.Run(ctx, func(ctx context.Context) {
		runs.Add(1)
		cancel()
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Fatalf("expected a single start-up run, got %d", runs.Load())
	}
}

func TestDaemonWaitsForStartupRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var finished atomic.Bool
	d := NewDaemon("0 0 0 1 1 *", time.UTC, zerolog.Nop())
	err := d.Run(ctx, func(context.Context) {
		cancel()
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatal("Run returned before the start-up job finished")
	}
}

func TestDaemonInvalidSpec(t *testing.T) {
	d := NewDaemon("not a spec", time.UTC, zerolog.Nop())
	if err := d.Run(context.Background(), func(context.Context) {}, false); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
