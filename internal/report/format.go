package report

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

const (
	timestampLayout = "2006-01-02 03:04:05 PM"

	colorUp      = "#28a745"
	colorDown    = "#dc3545"
	colorNeutral = "#6c757d"
)

// FormatTimestamp renders t in loc as "2006-01-02 03:04:05 PM".
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(timestampLayout)
}

// FormatDuration renders d as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	total := int64(d / time.Second)
	hours, rem := total/3600, total%3600
	minutes, seconds := rem/60, rem%60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Money renders d as "$64,123.45".
func Money(d decimal.Decimal) string {
	return "$" + humanize.FormatFloat("#,###.##", d.Round(2).InexactFloat64())
}

// ChangeText renders a percentage with an explicit sign, or "0.00%".
func ChangeText(change decimal.Decimal) string {
	rounded := change.Round(2)
	switch rounded.Sign() {
	case 1:
		return "+" + rounded.StringFixed(2) + "%"
	case -1:
		return rounded.StringFixed(2) + "%"
	default:
		return "0.00%"
	}
}

// ChangeColor picks the positive, negative or neutral colour for the change
// as ChangeText rounds it.
func ChangeColor(change decimal.Decimal) string {
	switch change.Round(2).Sign() {
	case 1:
		return colorUp
	case -1:
		return colorDown
	default:
		return colorNeutral
	}
}

// IntervalSeconds estimates the spacing of n samples spread over span.
func IntervalSeconds(span time.Duration, n int) float64 {
	if n < 2 {
		return 0
	}
	return span.Seconds() / float64(n-1)
}
