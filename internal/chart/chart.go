// Package chart renders a sample series as a PNG line chart.
package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	gochart "github.com/wcharczuk/go-chart/v2"

	"bpi-collector/internal/storage"
)

const (
	// AnnotateLimit is the largest series that still gets per-point value labels.
	AnnotateLimit = 20
	// MaxTicks caps the number of labelled time ticks.
	MaxTicks = 8

	defaultWidth  = 1000
	defaultHeight = 400
	tickLayout    = "15:04"
)

// Options tune chart output.
type Options struct {
	Path     string
	Width    int
	Height   int
	Location *time.Location
}

// Renderer writes chart images to a fixed path.
type Renderer struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Renderer.
func New(opts Options, logger zerolog.Logger) *Renderer {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Renderer{opts: opts, logger: logger.With().Str("component", "chart").Logger()}
}

// Path returns the output location.
func (r *Renderer) Path() string {
	return r.opts.Path
}

// Render draws series to the configured path and returns it. An empty series
// is logged and produces no file and an empty path.
func (r *Renderer) Render(series storage.Series) (string, error) {
	if series.Empty() {
		r.logger.Error().Msg("no samples to chart")
		return "", nil
	}

	if dir := filepath.Dir(r.opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create chart dir: %w", err)
		}
	}

	file, err := os.Create(r.opts.Path)
	if err != nil {
		return "", fmt.Errorf("create chart file: %w", err)
	}

	if err := WritePNG(file, series, r.opts); err != nil {
		file.Close()
		os.Remove(r.opts.Path)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close chart file: %w", err)
	}

	r.logger.Info().Str("path", r.opts.Path).Int("samples", len(series)).Msg("chart rendered")
	return r.opts.Path, nil
}

// WritePNG renders series as PNG into w.
func WritePNG(w io.Writer, series storage.Series, opts Options) error {
	if series.Empty() {
		return fmt.Errorf("render chart: empty series")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	pairs := series.Pairs()
	annotate := len(series) <= AnnotateLimit

	lines := make([]gochart.Series, 0, len(pairs)*2)
	low, high := math.MaxFloat64, -math.MaxFloat64
	for i, pair := range pairs {
		xs := make([]time.Time, 0, len(series))
		ys := make([]float64, 0, len(series))
		var labels []gochart.Value2
		for _, sample := range series {
			price, ok := sample.Price(pair)
			if !ok {
				continue
			}
			y := price.InexactFloat64()
			xs = append(xs, sample.Timestamp)
			ys = append(ys, y)
			low, high = math.Min(low, y), math.Max(high, y)
			if annotate {
				labels = append(labels, gochart.Value2{
					XValue: gochart.TimeToFloat64(sample.Timestamp),
					YValue: y,
					Label:  price.StringFixed(2),
				})
			}
		}

		color := gochart.GetDefaultColor(i)
		lines = append(lines, gochart.TimeSeries{
			Name:    pair,
			XValues: xs,
			YValues: ys,
			Style: gochart.Style{
				StrokeColor: color,
				StrokeWidth: 2,
				DotColor:    color,
				DotWidth:    3,
			},
		})
		if len(labels) > 0 {
			lines = append(lines, gochart.AnnotationSeries{
				Annotations: labels,
				Style:       gochart.Style{FontSize: 8},
			})
		}
	}

	yMin, yMax := paddedRange(low, high)
	graph := gochart.Chart{
		Title:  fmt.Sprintf("Prices (last %d samples)", len(series)),
		Width:  opts.Width,
		Height: opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			Name:  "Time",
			Ticks: TimeTicks(series, loc),
		},
		YAxis: gochart.YAxis{
			Name:           "Price",
			Range:          &gochart.ContinuousRange{Min: yMin, Max: yMax},
			ValueFormatter: PriceFormatter,
		},
		Series: lines,
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}

	if err := graph.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// PriceFormatter prints axis values with thousands separators and two decimals.
func PriceFormatter(v interface{}) string {
	switch typed := v.(type) {
	case float64:
		return humanize.FormatFloat("#,###.##", typed)
	case int:
		return humanize.FormatFloat("#,###.##", float64(typed))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// TimeTicks picks at most MaxTicks evenly spaced sample times, always
// including the first and last. A single sample is padded by a minute on
// each side so the axis has a non-zero span.
func TimeTicks(series storage.Series, loc *time.Location) []gochart.Tick {
	n := len(series)
	if n == 0 {
		return nil
	}
	tick := func(t time.Time) gochart.Tick {
		return gochart.Tick{Value: gochart.TimeToFloat64(t), Label: t.In(loc).Format(tickLayout)}
	}

	if n == 1 || series.Span() == 0 {
		t := series[0].Timestamp
		return []gochart.Tick{tick(t.Add(-time.Minute)), tick(t), tick(t.Add(time.Minute))}
	}

	count := n
	if count > MaxTicks {
		count = MaxTicks
	}
	ticks := make([]gochart.Tick, 0, count)
	last := -1
	for i := 0; i < count; i++ {
		idx := int(math.Round(float64(i) * float64(n-1) / float64(count-1)))
		if idx == last {
			continue
		}
		last = idx
		ticks = append(ticks, tick(series[idx].Timestamp))
	}
	return ticks
}

func paddedRange(low, high float64) (float64, float64) {
	delta := high - low
	pad := delta * 0.05
	if delta == 0 {
		pad = math.Max(math.Abs(high)*0.01, 1)
	}
	return low - pad, high + pad
}
