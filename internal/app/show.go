package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"bpi-collector/internal/report"
	"bpi-collector/internal/stats"
	"bpi-collector/internal/storage"
)

const showTimeLayout = "2006-01-02 15:04:05"

// Show prints recent samples of a run file, or of the archive.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	if opts.Archive {
		return a.showArchive(ctx, out, opts.Limit)
	}

	input, err := a.resolveInput(opts.Input)
	if err != nil {
		return err
	}
	series, err := storage.ReadSeriesFile(input)
	if err != nil {
		return err
	}
	if series.Empty() {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	loc := a.location()
	pairs := series.Pairs()
	recent := series
	if opts.Limit > 0 && len(recent) > opts.Limit {
		recent = recent[len(recent)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Time (%s)\t%s\n", loc.String(), strings.Join(pairs, "\t"))
	for _, sample := range recent {
		cells := make([]string, 0, len(pairs))
		for _, pair := range pairs {
			price, ok := sample.Price(pair)
			if !ok {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, report.Money(price))
		}
		fmt.Fprintf(writer, "%s\t%s\n", sample.Timestamp.In(loc).Format(showTimeLayout), strings.Join(cells, "\t"))
	}
	writer.Flush()

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tMin\tMax\tCurrent\tChange")
	for _, st := range stats.ExtractAll(series) {
		if st.Empty() {
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			st.Pair, report.Money(st.Min), report.Money(st.Max), report.Money(st.Current), report.ChangeText(st.ChangePct))
	}
	writer.Flush()
	return nil
}

func (a *App) showArchive(ctx context.Context, out io.Writer, limit int) error {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("database not configured; cannot show archived samples")
	}
	defer closeArchive()

	samples, err := archive.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	loc := a.location()
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Time (%s)\tRun\tPair\tPrice\n", loc.String())
	for _, sample := range samples {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			sample.Timestamp.In(loc).Format(showTimeLayout),
			shortID(sample.RunID),
			sample.Pair,
			report.Money(sample.Price),
		)
	}
	writer.Flush()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
