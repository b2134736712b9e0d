// Package report composes the HTML mail body and the PDF document of a run.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bpi-collector/internal/stats"
	"bpi-collector/internal/storage"
)

// NoDataMessage is the body used when a run produced no samples.
const NoDataMessage = "No data available for report"

// DefaultTitle heads both the mail body and the document.
const DefaultTitle = "Bitcoin Price Index Report"

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var defaultTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

// Options tune report output.
type Options struct {
	Title    string
	Location *time.Location
	Now      func() time.Time
}

// Composer renders reports for a series.
type Composer struct {
	opts   Options
	tmpl   *template.Template
	logger zerolog.Logger
}

// New constructs a Composer using the embedded HTML template.
func New(opts Options, logger zerolog.Logger) *Composer {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Composer{
		opts:   opts,
		tmpl:   defaultTemplate,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// WithTemplate returns a copy of c that renders with tmpl.
func (c *Composer) WithTemplate(tmpl *template.Template) *Composer {
	clone := *c
	clone.tmpl = tmpl
	return &clone
}

type htmlView struct {
	Title       string
	GeneratedAt string
	Start       string
	End         string
	Duration    string
	SampleCount int
	Interval    string
	Rows        []htmlRow
	ChartCID    string
}

type htmlRow struct {
	Pair    string
	Min     string
	Max     string
	Current string
	Change  string
	Color   template.CSS
}

// HTML renders the mail body for series. chartCID, when set, references an
// inline chart image. The result is never empty: an empty series gives
// NoDataMessage and a template failure gives the fallback table.
func (c *Composer) HTML(series storage.Series, chartCID string) string {
	if series.Empty() {
		return NoDataMessage
	}

	body, err := c.renderTemplate(c.view(series, chartCID))
	if err != nil {
		c.logger.Warn().Err(err).Msg("report template failed; using fallback")
		return c.renderFallback(series)
	}
	return body
}

func (c *Composer) view(series storage.Series, chartCID string) htmlView {
	first, _ := series.First()
	last, _ := series.Last()

	view := htmlView{
		Title:       c.opts.Title,
		GeneratedAt: FormatTimestamp(c.opts.Now(), c.opts.Location),
		Start:       FormatTimestamp(first.Timestamp, c.opts.Location),
		End:         FormatTimestamp(last.Timestamp, c.opts.Location),
		Duration:    FormatDuration(series.Span()),
		SampleCount: len(series),
		Interval:    fmt.Sprintf("%.1f", IntervalSeconds(series.Span(), len(series))),
		ChartCID:    chartCID,
	}
	for _, st := range stats.ExtractAll(series) {
		if st.Empty() {
			continue
		}
		view.Rows = append(view.Rows, htmlRow{
			Pair:    st.Pair,
			Min:     Money(st.Min),
			Max:     Money(st.Max),
			Current: Money(st.Current),
			Change:  ChangeText(st.ChangePct),
			Color:   template.CSS(ChangeColor(st.ChangePct)),
		})
	}
	return view
}

func (c *Composer) renderTemplate(view htmlView) (string, error) {
	if c.tmpl == nil {
		return "", fmt.Errorf("no template configured")
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// renderFallback lists the latest raw prices without statistics.
func (c *Composer) renderFallback(series storage.Series) string {
	last, _ := series.Last()
	pairs := make([]string, 0, len(last.Prices))
	for pair := range last.Prices {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	var b strings.Builder
	b.WriteString(`<html><body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">`)
	fmt.Fprintf(&b, `<h1 style="color: #2c3e50;">%s</h1>`, html.EscapeString(c.opts.Title))
	fmt.Fprintf(&b, `<p>Report generated on %s UTC</p>`, c.opts.Now().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, `<p>Samples collected: %d</p>`, len(series))
	b.WriteString(`<table border="1" style="width: 100%; border-collapse: collapse;">`)
	b.WriteString(`<tr style="background-color: #f1f1f1;"><th>Currency Pair</th><th>Min Price</th><th>Max Price</th><th>Current Price</th><th>Change</th></tr>`)
	for _, pair := range pairs {
		fmt.Fprintf(&b, `<tr><td>%s</td><td>%s</td><td>-</td><td>-</td><td>-</td></tr>`,
			html.EscapeString(pair), html.EscapeString(Money(last.Prices[pair])))
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}
