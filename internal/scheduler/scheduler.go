// Package scheduler drives a fixed-length collection run and cron-triggered
// repetitions of it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bpi-collector/internal/fetcher"
	"bpi-collector/internal/storage"
)

// State is a phase of a collection run.
type State string

const (
	StateIdle      State = "idle"
	StateSampling  State = "sampling"
	StateWaiting   State = "waiting"
	StateRendering State = "rendering"
	StateComplete  State = "complete"
)

// SleepFunc waits for d or until ctx is cancelled.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SampleStore is the store a run appends to and reads back from.
type SampleStore interface {
	storage.SampleAppender
	storage.SampleReader
}

// ChartRenderer draws the finished series.
type ChartRenderer interface {
	Render(series storage.Series) (string, error)
}

// Options tune collector behaviour.
type Options struct {
	Samples  int
	Interval time.Duration
	Pairs    []string

	Now   func() time.Time
	Sleep SleepFunc
	// OnSample observes every sample after it was appended.
	OnSample func(ctx context.Context, sample storage.Sample)
	// OnState observes state transitions.
	OnState func(State)
}

// RunResult is what a completed run yields.
type RunResult struct {
	Series    storage.Series
	Attempted int
	Failed    int
	ChartPath string
	Started   time.Time
	Finished  time.Time
}

// Collector runs one sampling session.
type Collector struct {
	source fetcher.PriceSource
	store  SampleStore
	chart  ChartRenderer
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// New constructs a Collector. chart may be nil to skip rendering.
func New(source fetcher.PriceSource, store SampleStore, chart ChartRenderer, opts Options, logger zerolog.Logger) *Collector {
	if opts.Samples <= 0 {
		panic("collector sample count must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	return &Collector{
		source: source,
		store:  store,
		chart:  chart,
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		state:  StateIdle,
	}
}

// State reports the current phase.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Run blocks for Samples ticks separated by Interval, then reads the series
// back and renders the chart. Tick failures are logged and the run continues.
// It returns an error only when ctx is cancelled.
func (c *Collector) Run(ctx context.Context) (RunResult, error) {
	result := RunResult{Started: c.opts.Now().UTC()}
	c.logger.Info().
		Int("samples", c.opts.Samples).
		Dur("interval", c.opts.Interval).
		Strs("pairs", c.opts.Pairs).
		Msg("collection started")

	for i := 0; i < c.opts.Samples; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		c.setState(StateSampling)
		result.Attempted++
		if err := c.tick(ctx, i+1); err != nil {
			result.Failed++
			c.logger.Error().Err(err).Int("tick", i+1).Msg("tick failed")
		}

		if i == c.opts.Samples-1 || c.opts.Interval <= 0 {
			continue
		}
		c.setState(StateWaiting)
		c.logger.Debug().Dur("interval", c.opts.Interval).Msg("waiting for next tick")
		if err := c.opts.Sleep(ctx, c.opts.Interval); err != nil {
			return result, err
		}
	}

	c.setState(StateRendering)
	series, err := c.store.ReadAll()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to read collected samples")
		series = nil
	}
	result.Series = series

	if c.chart != nil && !series.Empty() {
		path, err := c.chart.Render(series)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to render chart")
		}
		result.ChartPath = path
	}

	result.Finished = c.opts.Now().UTC()
	c.setState(StateComplete)
	c.logger.Info().
		Int("collected", len(series)).
		Int("attempted", result.Attempted).
		Int("failed", result.Failed).
		Msg("collection complete")
	return result, nil
}

func (c *Collector) tick(ctx context.Context, n int) error {
	prices, err := fetcher.FetchAll(ctx, c.source, c.opts.Pairs, c.logger)
	if err != nil {
		return err
	}

	sample := storage.NewSample(c.opts.Now().UTC(), prices)
	if err := c.store.Append(sample); err != nil {
		return err
	}

	c.logger.Info().Int("tick", n).Int("pairs", len(prices)).Msg("sample stored")
	if c.opts.OnSample != nil {
		c.opts.OnSample(ctx, sample)
	}
	return nil
}

// Sleep waits for d on a timer, returning early when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
