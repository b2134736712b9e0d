package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"bpi-collector/internal/chart"
	"bpi-collector/internal/report"
	"bpi-collector/internal/storage"
)

// Export renders a run file as CSV, PNG chart and/or PDF report.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.PDFPath == "" {
		return errors.New("at least one of --csv, --png or --pdf must be provided")
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
		a.Logger.Info().Str("input", input).Msg("no samples found for export")
		return nil
	}

	downsampled := downsampleSeries(series, opts.MaxPoints)
	a.Logger.Info().Int("total", len(series)).Int("exported", len(downsampled)).Msg("exporting samples")

	loc := a.location()
	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	chartPath := ""
	if opts.PNGPath != "" {
		renderer := chart.New(chart.Options{Path: opts.PNGPath, Location: loc}, a.Logger)
		if chartPath, err = renderer.Render(downsampled); err != nil {
			return err
		}
	}

	if opts.PDFPath != "" {
		if chartPath == "" {
			chartPath = storage.GraphFor(input)
		}
		composer := report.New(report.Options{Location: loc}, a.Logger)
		if _, err := composer.WriteDocument(series, chartPath, opts.PDFPath); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) resolveInput(input string) (string, error) {
	if input != "" {
		return input, nil
	}
	run, ok, err := storage.LatestRun(a.Config.Storage.DataDir)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no runs found in %s", a.Config.Storage.DataDir)
	}
	return run.Data, nil
}

func downsampleSeries(series storage.Series, max int) storage.Series {
	if max <= 0 || len(series) <= max {
		return series
	}
	if max == 1 {
		return series[len(series)-1:]
	}

	result := make(storage.Series, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeSeriesCSV(path string, series storage.Series) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	pairs := series.Pairs()
	header := append([]string{"ts"}, pairs...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range series {
		record := make([]string, 0, len(header))
		record = append(record, sample.Timestamp.UTC().Format(time.RFC3339))
		for _, pair := range pairs {
			price, ok := sample.Price(pair)
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, price.String())
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
