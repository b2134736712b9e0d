package report

import (
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"

	"bpi-collector/internal/stats"
	"bpi-collector/internal/storage"
)

const (
	pointsPerInch = 72.0
	pageMargin    = 50.0
	chartWidth    = 9 * pointsPerInch
	headingHeight = 22 + 6
	fontFamily    = "Helvetica"
)

type rgb struct{ r, g, b int }

var (
	colorTitle   = rgb{0x66, 0x7e, 0xea}
	colorHeading = rgb{0x2c, 0x3e, 0x50}
	colorGrid    = rgb{0xe9, 0xec, 0xef}
	colorLabel   = rgb{0xf8, 0xf9, 0xfa}
	colorWhite   = rgb{0xff, 0xff, 0xff}
)

// WriteDocument renders series as a landscape Letter PDF at out and returns
// out. The chart at chartPath is embedded when the file exists. An empty
// series yields a title-only document.
func (c *Composer) WriteDocument(series storage.Series, chartPath, out string) (string, error) {
	pdf := fpdf.New("L", "pt", "Letter", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(c.opts.Title, false)
	pdf.SetCreator("bpicollector", false)
	pdf.AddPage()

	setText(pdf, colorTitle)
	pdf.SetFont(fontFamily, "B", 24)
	pdf.CellFormat(0, 30, c.opts.Title, "", 1, "L", false, 0, "")
	pdf.Ln(20)

	if !series.Empty() {
		c.writeOverview(pdf, series)
		c.writeStatistics(pdf, series)
	}

	if chartPath != "" {
		if _, err := os.Stat(chartPath); err == nil {
			if err := writeChart(pdf, chartPath); err != nil {
				return "", err
			}
		}
	}

	if dir := filepath.Dir(out); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}

	c.logger.Info().Str("path", out).Int("samples", len(series)).Msg("pdf report written")
	return out, nil
}

func (c *Composer) writeOverview(pdf *fpdf.Fpdf, series storage.Series) {
	first, _ := series.First()
	last, _ := series.Last()

	heading(pdf, "Session Overview")

	rows := [][2]string{
		{"Collection Period", FormatTimestamp(first.Timestamp, c.opts.Location) + " to " + FormatTimestamp(last.Timestamp, c.opts.Location)},
		{"Duration", FormatDuration(series.Span())},
		{"Total Samples", strconv.Itoa(len(series))},
		{"Currency Pairs", strings.Join(series.Pairs(), ", ")},
	}

	pdf.SetFont(fontFamily, "", 12)
	setDraw(pdf, colorGrid)
	pdf.SetLineWidth(1)
	for _, row := range rows {
		setText(pdf, colorHeading)
		setFill(pdf, colorLabel)
		pdf.CellFormat(2.5*pointsPerInch, 24, row[0], "1", 0, "L", true, 0, "")
		pdf.CellFormat(4*pointsPerInch, 24, row[1], "1", 1, "L", false, 0, "")
	}
	pdf.Ln(20)
}

func (c *Composer) writeStatistics(pdf *fpdf.Fpdf, series storage.Series) {
	var rows [][]string
	for _, st := range stats.ExtractAll(series) {
		if st.Empty() {
			continue
		}
		rows = append(rows, []string{st.Pair, Money(st.Min), Money(st.Max), Money(st.Current), ChangeText(st.ChangePct)})
	}
	if len(rows) == 0 {
		return
	}

	heading(pdf, "Price Statistics")

	const colWidth = 1.5 * pointsPerInch
	pdf.SetFont(fontFamily, "B", 12)
	setDraw(pdf, colorGrid)
	setFill(pdf, colorTitle)
	setText(pdf, colorWhite)
	for i, title := range []string{"Currency Pair", "Minimum", "Maximum", "Current", "Change"} {
		ln := 0
		if i == 4 {
			ln = 1
		}
		pdf.CellFormat(colWidth, 24, title, "1", ln, "L", true, 0, "")
	}

	pdf.SetFont(fontFamily, "", 12)
	setText(pdf, colorHeading)
	for _, row := range rows {
		for i, cell := range row {
			ln := 0
			if i == len(row)-1 {
				ln = 1
			}
			pdf.CellFormat(colWidth, 24, cell, "1", ln, "L", false, 0, "")
		}
	}
	pdf.Ln(20)
}

func writeChart(pdf *fpdf.Fpdf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chart: %w", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode chart: %w", err)
	}
	if cfg.Width == 0 {
		return fmt.Errorf("decode chart: zero width")
	}

	height := chartWidth * float64(cfg.Height) / float64(cfg.Width)
	ensureRoom(pdf, headingHeight+height)
	heading(pdf, "Price History")
	left, _, _, _ := pdf.GetMargins()
	pdf.ImageOptions(path, left, 0, chartWidth, height, true, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("embed chart: %w", err)
	}
	return nil
}

// ensureRoom starts a new page when need points no longer fit above the
// bottom margin.
func ensureRoom(pdf *fpdf.Fpdf, need float64) {
	_, pageHeight := pdf.GetPageSize()
	_, bottom := pdf.GetAutoPageBreak()
	if pdf.GetY()+need > pageHeight-bottom {
		pdf.AddPage()
	}
}

func heading(pdf *fpdf.Fpdf, text string) {
	setText(pdf, colorHeading)
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 22, text, "", 1, "L", false, 0, "")
	pdf.Ln(headingHeight - 22)
}

func setText(pdf *fpdf.Fpdf, c rgb) { pdf.SetTextColor(c.r, c.g, c.b) }
func setFill(pdf *fpdf.Fpdf, c rgb) { pdf.SetFillColor(c.r, c.g, c.b) }
func setDraw(pdf *fpdf.Fpdf, c rgb) { pdf.SetDrawColor(c.r, c.g, c.b) }
